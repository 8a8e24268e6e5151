package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	string(logging.FormatText): true,
	string(logging.FormatJSON): true,
}

// ValidationError is a single configuration error.
type ValidationError struct {
	Path    string // Config path, e.g., "protocols[1]"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationResult contains all validation errors for a ServerConfig.
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns a combined error message.
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(path, message string) {
	r.Errors = append(r.Errors, ValidationError{Path: path, Message: message})
}

// Validate checks c and returns every error found.
func (c *ServerConfig) Validate() *ValidationResult {
	result := &ValidationResult{}

	if c.Listen == "" {
		result.AddError("listen", "required")
	} else if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		result.AddError("listen", fmt.Sprintf("invalid address %q", c.Listen))
	}

	validatePath(c.WebSocketPath, "websocketPath", true, result)
	validatePath(c.MetricsPath, "metricsPath", false, result)
	if c.MetricsPath != "" && c.MetricsPath == c.WebSocketPath {
		result.AddError("metricsPath", "must differ from websocketPath")
	}

	if c.KeepAlive < 0 {
		result.AddError("keepAlive", "must be >= 0")
	}
	if c.ConnectionInitTimeout < 0 {
		result.AddError("connectionInitTimeout", "must be >= 0")
	}
	if c.WriteTimeout < 0 {
		result.AddError("writeTimeout", "must be >= 0")
	}
	if c.ShutdownTimeout < 0 {
		result.AddError("shutdownTimeout", "must be >= 0")
	}
	if c.ReadLimit <= 0 {
		result.AddError("readLimit", "must be > 0")
	}

	if len(c.Protocols) == 0 {
		result.AddError("protocols", "at least one protocol is required")
	}
	seen := make(map[string]bool)
	for i, name := range c.Protocols {
		path := fmt.Sprintf("protocols[%d]", i)
		p, err := subprotocol.Lookup(name)
		if err != nil {
			result.AddError(path, fmt.Sprintf("unsupported protocol %q", name))
			continue
		}
		if seen[p.Name()] {
			result.AddError(path, fmt.Sprintf("duplicate protocol %q", name))
		}
		seen[p.Name()] = true
	}

	for i, pattern := range c.OriginPatterns {
		if strings.TrimSpace(pattern) == "" {
			result.AddError(fmt.Sprintf("originPatterns[%d]", i), "must not be empty")
		}
	}

	if c.Auth.Enabled() && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		result.AddError("auth.jwtSecret", fmt.Sprintf("must be at least %d bytes", MinJWTSecretLength))
	}
	if !c.Auth.Enabled() && c.Auth.Issuer != "" {
		result.AddError("auth.issuer", "requires auth.jwtSecret")
	}

	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		result.AddError("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "" && !validLogFormats[strings.ToLower(c.Log.Format)] {
		result.AddError("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	return result
}

// EnabledProtocols resolves Protocols. Unknown names are skipped.
func (c *ServerConfig) EnabledProtocols() []subprotocol.Protocol {
	var out []subprotocol.Protocol
	for _, name := range c.Protocols {
		if p, err := subprotocol.Lookup(name); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func validatePath(path, field string, required bool, result *ValidationResult) {
	if path == "" {
		if required {
			result.AddError(field, "required")
		}
		return
	}
	if !strings.HasPrefix(path, "/") {
		result.AddError(field, "must start with /")
	}
}
