package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a log level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the log output format.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or json).
	Format Format

	// Output is the writer to send logs to. Defaults to os.Stderr.
	Output io.Writer

	// AddSource adds source file and line to log entries.
	AddSource bool

	// File, when set, also writes entries to a size-rotated log file.
	File *FileConfig
}

// FileConfig controls the rotated log file.
type FileConfig struct {
	Path string

	// MaxSizeMB is the size at which the file is rotated. Defaults to 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Defaults to 5.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this. Zero keeps them.
	MaxAgeDays int

	Compress bool
}

// writer returns the rotating writer for the file.
func (f *FileConfig) writer() *lumberjack.Logger {
	size, backups := f.MaxSizeMB, f.MaxBackups
	if size <= 0 {
		size = 10
	}
	if backups <= 0 {
		backups = 5
	}
	return &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     f.MaxAgeDays,
		Compress:   f.Compress,
	}
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// New creates a new slog.Logger with the given configuration.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.File != nil && cfg.File.Path != "" {
		cfg.Output = io.MultiWriter(cfg.Output, cfg.File.writer())
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// Nop returns a no-op logger that discards all output.
// Use this when a logger is required but logging is disabled.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// ForImposter scopes a logger to one imposter, e.g. "http:4545".
func ForImposter(l *slog.Logger, protocol string, port int) *slog.Logger {
	return OrNop(l).With("imposter", protocol, "port", port)
}

// ForExchange scopes a logger to a single request/response exchange and
// returns the generated exchange id.
func ForExchange(l *slog.Logger) (*slog.Logger, string) {
	id := uuid.NewString()
	return OrNop(l).With("exchange", id), id
}

// ParseLevel parses a log level string.
// Valid values: "debug", "info", "warn", "error".
// Returns LevelInfo if the string is not recognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat parses a log format string.
// Valid values: "text", "json".
// Returns FormatText if the string is not recognized.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}
