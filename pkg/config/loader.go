package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading/saving.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
)

// Load reads a configuration file, every configuration file directly inside
// a directory, or every file matching a glob pattern such as
// "imposters/**/*.yaml".
func Load(path string) (*File, error) {
	if isGlob(path) {
		return LoadGlob(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, statError(path, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFromFile(path)
}

// LoadFromFile reads a File from a JSON or YAML file.
// The format is auto-detected based on file extension (.yaml, .yml for YAML, otherwise JSON).
// Returns wrapped errors for common failure cases.
func LoadFromFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, statError(path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	if isYAML(path) {
		return ParseYAML(data)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w in file: %s", ErrInvalidJSON, path)
	}

	return ParseJSON(data)
}

// LoadDir merges the imposters of every .json, .yaml and .yml file directly
// inside dir, in file name order. Engine settings come from the first file
// that sets any.
func LoadDir(dir string) (*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, statError(dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isConfigFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return loadFiles(paths)
}

// LoadGlob merges the imposters of every file matching pattern, in path
// order. Patterns support ** for recursive matching.
func LoadGlob(pattern string) (*File, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expanding glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no files match %s", ErrFileNotFound, pattern)
	}
	sort.Strings(matches)
	return loadFiles(matches)
}

// loadFiles merges files in order. Engine settings come from the first file
// that sets any.
func loadFiles(paths []string) (*File, error) {
	merged := &File{}
	engineSet := false
	for _, path := range paths {
		f, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if !engineSet && f.Engine != (EngineConfig{}) {
			merged.Engine = f.Engine
			engineSet = true
		}
		merged.Imposters = append(merged.Imposters, f.Imposters...)
	}

	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return merged, nil
}

// SaveToFile writes a File using atomic rename.
// The format is determined by file extension (.yaml, .yml for YAML, otherwise JSON).
// Creates parent directories if they don't exist.
func SaveToFile(path string, f *File) error {
	if f == nil {
		return errors.New("config cannot be nil")
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = ToYAML(f)
	} else {
		data, err = ToJSON(f)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// ParseJSON parses JSON bytes into a File with validation.
func ParseJSON(data []byte) (*File, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &f, nil
}

// ParseYAML parses YAML bytes into a File with validation.
func ParseYAML(data []byte) (*File, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	doc, err := jsonDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &f, nil
}

// ToJSON marshals a File to formatted JSON bytes.
func ToJSON(f *File) ([]byte, error) {
	if f == nil {
		return nil, errors.New("config cannot be nil")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	return append(data, '\n'), nil
}

// ToYAML marshals a File to YAML bytes.
func ToYAML(f *File) ([]byte, error) {
	if f == nil {
		return nil, errors.New("config cannot be nil")
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
	}

	return data, nil
}

func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func statError(path string, err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	}
	return fmt.Errorf("failed to stat file: %w", err)
}
