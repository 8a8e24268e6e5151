package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getmockd/gqlws/pkg/subprotocol"
)

// Default values.
const (
	DefaultListen                = ":4000"
	DefaultWebSocketPath         = "/graphql"
	DefaultMetricsPath           = "/metrics"
	DefaultKeepAlive             = 12 * time.Second
	DefaultConnectionInitTimeout = 3 * time.Second
	DefaultWriteTimeout          = 5 * time.Second
	DefaultReadLimit             = 1 << 20
	DefaultShutdownTimeout       = 10 * time.Second

	// MinJWTSecretLength is the shortest accepted HS256 secret.
	MinJWTSecretLength = 16
)

// ServerConfig configures the gqlws server.
type ServerConfig struct {
	// Listen is the TCP address the HTTP server binds to.
	Listen string `json:"listen" yaml:"listen"`

	// WebSocketPath is the path GraphQL WebSocket upgrades are served on.
	WebSocketPath string `json:"websocketPath" yaml:"websocketPath"`

	// MetricsPath serves the Prometheus exposition. Empty disables it.
	MetricsPath string `json:"metricsPath" yaml:"metricsPath"`

	KeepAlive             Duration `json:"keepAlive" yaml:"keepAlive"`
	ConnectionInitTimeout Duration `json:"connectionInitTimeout" yaml:"connectionInitTimeout"`
	WriteTimeout          Duration `json:"writeTimeout" yaml:"writeTimeout"`
	ShutdownTimeout       Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`

	// ReadLimit is the largest inbound message accepted, in bytes.
	ReadLimit int64 `json:"readLimit" yaml:"readLimit"`

	// Protocols lists the enabled sub-protocols in preference order.
	Protocols []string `json:"protocols" yaml:"protocols"`

	// OriginPatterns lists hosts allowed to connect cross-origin.
	OriginPatterns     []string `json:"originPatterns,omitempty" yaml:"originPatterns,omitempty"`
	InsecureSkipVerify bool     `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	Auth AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`

	Log LogConfig `json:"log" yaml:"log"`
}

// AuthConfig enables HS256 bearer tokens. With an empty JWTSecret every
// connection is accepted.
type AuthConfig struct {
	JWTSecret string `json:"jwtSecret,omitempty" yaml:"jwtSecret,omitempty"`
	// Issuer, when set, must match the token's iss claim.
	Issuer string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
}

// Enabled reports whether tokens are required.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// File, when set, receives a JSON copy of every log record.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns a ServerConfig with every field at its default.
func Default() *ServerConfig {
	return &ServerConfig{
		Listen:                DefaultListen,
		WebSocketPath:         DefaultWebSocketPath,
		MetricsPath:           DefaultMetricsPath,
		KeepAlive:             Duration(DefaultKeepAlive),
		ConnectionInitTimeout: Duration(DefaultConnectionInitTimeout),
		WriteTimeout:          Duration(DefaultWriteTimeout),
		ShutdownTimeout:       Duration(DefaultShutdownTimeout),
		ReadLimit:             DefaultReadLimit,
		Protocols:             []string{subprotocol.NameTransportWS, subprotocol.NameLegacyWS},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Duration is a time.Duration encoded as a Go duration string ("12s").
// Plain numbers are read as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if node.Tag == "!!int" || node.Tag == "!!float" {
		var secs float64
		if err := node.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	if err := d.parse(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}
