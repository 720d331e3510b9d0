package config

import (
	"time"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/proxy"
)

// DefaultAdminPort is the admin API port used when none is configured.
const DefaultAdminPort = 2525

// File is the on-disk configuration: engine settings plus the imposters to
// start.
type File struct {
	Version   string            `json:"version,omitempty" yaml:"version,omitempty"`
	Engine    EngineConfig      `json:"engine" yaml:"engine"`
	Imposters []*ImposterConfig `json:"imposters" yaml:"imposters" validate:"dive,required"`
}

// EngineConfig holds process-wide settings.
type EngineConfig struct {
	// AdminPort serves the admin API and the delegated proxy callbacks.
	AdminPort int `json:"adminPort,omitempty" yaml:"adminPort,omitempty" validate:"omitempty,min=1,max=65535"`

	// Host is the interface imposters and the admin API bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty" validate:"omitempty,hostname|ip"`

	Injection InjectionConfig `json:"injection" yaml:"injection"`
	Proxy     ProxyConfig     `json:"proxy" yaml:"proxy"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// InjectionConfig controls the sandbox.
type InjectionConfig struct {
	Allow    bool   `json:"allow" yaml:"allow"`
	Language string `json:"language,omitempty" yaml:"language,omitempty" validate:"omitempty,oneof=expr go"`
	Timeout  string `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,duration"`
}

// ProxyConfig tunes the in-process HTTP proxy transport.
type ProxyConfig struct {
	// Delegate hands proxy calls to an external transport through the admin
	// API instead of performing them in-process.
	Delegate bool `json:"delegate,omitempty" yaml:"delegate,omitempty"`

	Attempts   uint   `json:"attempts,omitempty" yaml:"attempts,omitempty" validate:"omitempty,min=1,max=10"`
	RetryDelay string `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty" validate:"omitempty,duration"`
	Timeout    string `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,duration"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=text json"`

	// File also writes logs to a rotated file.
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB,omitempty" yaml:"maxSizeMB,omitempty" validate:"omitempty,min=1"`
	MaxBackups int    `json:"maxBackups,omitempty" yaml:"maxBackups,omitempty" validate:"omitempty,min=1"`
}

// ImposterConfig defines one virtual service.
type ImposterConfig struct {
	Port     int    `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=http"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`

	// MaxConnections caps concurrently accepted connections. Zero is unlimited.
	MaxConnections int `json:"maxConnections,omitempty" yaml:"maxConnections,omitempty" validate:"omitempty,min=1"`

	Stubs []*imposter.Rule `json:"stubs,omitempty" yaml:"stubs,omitempty"`

	// DefaultResponse answers requests no rule matches.
	DefaultResponse imposter.Response `json:"defaultResponse,omitempty" yaml:"defaultResponse,omitempty"`

	// RecordMatches keeps every served request/response pair in the match
	// history of the rule that answered it.
	RecordMatches bool `json:"recordMatches,omitempty" yaml:"recordMatches,omitempty"`
}

// ProtocolName returns the protocol, defaulting to http.
func (c *ImposterConfig) ProtocolName() string {
	if c.Protocol == "" {
		return "http"
	}
	return c.Protocol
}

// SandboxConfig converts the injection settings.
func (e EngineConfig) SandboxConfig() inject.Config {
	return inject.Config{
		AllowInjection: e.Injection.Allow,
		Language:       inject.Language(e.Injection.Language),
		Timeout:        parseDuration(e.Injection.Timeout),
	}
}

// Transport builds the in-process proxy transport described by the proxy
// settings. Zero values keep the transport defaults.
func (e EngineConfig) Transport(t *proxy.HTTPTransport) *proxy.HTTPTransport {
	if e.Proxy.Attempts > 0 {
		t.Attempts = e.Proxy.Attempts
	}
	if d := parseDuration(e.Proxy.RetryDelay); d > 0 {
		t.RetryDelay = d
	}
	if d := parseDuration(e.Proxy.Timeout); d > 0 {
		t.Client.Timeout = d
	}
	return t
}

// LoggingConfig converts the log settings.
func (e EngineConfig) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if e.Log.Level != "" {
		cfg.Level = logging.ParseLevel(e.Log.Level)
	}
	if e.Log.Format != "" {
		cfg.Format = logging.ParseFormat(e.Log.Format)
	}
	if e.Log.File != "" {
		cfg.File = &logging.FileConfig{
			Path:       e.Log.File,
			MaxSizeMB:  e.Log.MaxSizeMB,
			MaxBackups: e.Log.MaxBackups,
			Compress:   true,
		}
	}
	return cfg
}

// AdminPortOrDefault returns the admin port, defaulting to DefaultAdminPort.
func (e EngineConfig) AdminPortOrDefault() int {
	if e.AdminPort == 0 {
		return DefaultAdminPort
	}
	return e.AdminPort
}

// parseDuration returns zero for empty or invalid input. Validate rejects
// invalid durations before they get here.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
