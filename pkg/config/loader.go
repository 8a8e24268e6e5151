package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
)

// LoadFromFile reads a ServerConfig from a JSON or YAML file.
// The format is auto-detected based on file extension (.yaml, .yml for YAML, otherwise JSON).
// Returns wrapped errors for common failure cases.
func LoadFromFile(path string) (*ServerConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
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

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return ParseYAML(data)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w in file: %s", ErrInvalidJSON, path)
	}

	return ParseJSON(data)
}

// ParseJSON parses JSON bytes over the defaults and validates the result.
func ParseJSON(data []byte) (*ServerConfig, error) {
	cfg := Default()

	if err := json.Unmarshal(data, cfg); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	if result := cfg.Validate(); !result.IsValid() {
		return nil, fmt.Errorf("validation failed: %w", result)
	}

	return cfg, nil
}

// ParseYAML parses YAML bytes over the defaults and validates the result.
func ParseYAML(data []byte) (*ServerConfig, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	if result := cfg.Validate(); !result.IsValid() {
		return nil, fmt.Errorf("validation failed: %w", result)
	}

	return cfg, nil
}

// checkDocument rejects documents that do not match Schema. Empty
// documents keep the defaults.
func checkDocument(doc interface{}) error {
	if doc == nil {
		return nil
	}
	if result := checkStructure(doc); !result.IsValid() {
		return fmt.Errorf("validation failed: %w", result)
	}
	return nil
}

// ToYAML serializes cfg to YAML.
func ToYAML(cfg *ServerConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// ToJSON serializes cfg to indented JSON.
func ToJSON(cfg *ServerConfig) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}
