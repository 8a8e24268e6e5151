package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	path := writeFile(t, "gqlws.yaml", `
listen: "127.0.0.1:8080"
websocketPath: /subscriptions
keepAlive: 30s
connectionInitTimeout: 500ms
protocols:
  - graphql-ws
originPatterns:
  - "*.example.com"
log:
  level: debug
  format: json
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "/subscriptions", cfg.WebSocketPath)
	assert.Equal(t, 30*time.Second, cfg.KeepAlive.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectionInitTimeout.Std())
	assert.Equal(t, []string{"graphql-ws"}, cfg.Protocols)
	assert.Equal(t, []string{"*.example.com"}, cfg.OriginPatterns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Unset fields keep their defaults.
	assert.Equal(t, DefaultMetricsPath, cfg.MetricsPath)
	assert.Equal(t, int64(DefaultReadLimit), cfg.ReadLimit)
}

func TestLoadFromFile_ValidJSON(t *testing.T) {
	path := writeFile(t, "gqlws.json", `{
		"listen": ":9000",
		"keepAlive": "0s",
		"connectionInitTimeout": 5
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Zero(t, cfg.KeepAlive.Std())
	assert.Equal(t, 5*time.Second, cfg.ConnectionInitTimeout.Std())
	assert.Equal(t, DefaultWebSocketPath, cfg.WebSocketPath)
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr error
	}{
		{"invalid JSON", "bad.json", `{ invalid json }`, ErrInvalidJSON},
		{"invalid YAML", "bad.yaml", "listen: [unterminated", ErrInvalidYAML},
		{"empty file", "empty.yml", "", ErrEmptyFile},
		{"whitespace only", "blank.json", "  \n\t", ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromFile(writeFile(t, tt.file, tt.content))
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoadFromFile_Directory(t *testing.T) {
	cfg, err := LoadFromFile(t.TempDir())
	assert.Nil(t, cfg)
	assert.ErrorContains(t, err, "directory")
}

func TestParseYAML_InvalidDuration(t *testing.T) {
	_, err := ParseYAML([]byte("keepAlive: soon"))
	assert.ErrorContains(t, err, `invalid duration "soon"`)
}

func TestParseJSON_ValidationFailure(t *testing.T) {
	_, err := ParseJSON([]byte(`{"protocols": ["subscriptions-transport-ws"]}`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "validation failed")
	assert.ErrorContains(t, err, `protocols[0]: unsupported protocol "subscriptions-transport-ws"`)

	var result *ValidationResult
	require.ErrorAs(t, err, &result)
	assert.Len(t, result.Errors, 1)
}

func TestRoundTrip_YAML(t *testing.T) {
	cfg := Default()
	cfg.KeepAlive = Duration(45 * time.Second)

	data, err := ToYAML(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keepAlive: 45s")

	parsed, err := ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestToJSON_DurationsAsStrings(t *testing.T) {
	data, err := ToJSON(Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"keepAlive": "12s"`)
	assert.Contains(t, string(data), `"connectionInitTimeout": "3s"`)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name  string
		parse func([]byte) (*ServerConfig, error)
		data  string
		path  string
		msg   string
	}{
		{"top-level JSON", ParseJSON, `{"listen": ":4000", "keepalive": "5s"}`, "", "keepalive"},
		{"nested YAML", ParseYAML, "log:\n  level: info\n  colour: true\n", "log", "colour"},
		{"wrong element type", ParseYAML, "protocols:\n  - graphql-ws\n  - 7\n", "protocols[1]", "string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tt.parse([]byte(tt.data))
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.ErrorContains(t, err, "validation failed")

			var result *ValidationResult
			require.ErrorAs(t, err, &result)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.path, result.Errors[0].Path)
			assert.Contains(t, result.Errors[0].Message, tt.msg)
		})
	}
}

func TestParseYAML_CommentsOnlyKeepsDefaults(t *testing.T) {
	cfg, err := ParseYAML([]byte("# nothing configured\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseYAML_Auth(t *testing.T) {
	cfg, err := ParseYAML([]byte("auth:\n  jwtSecret: 0123456789abcdef\n  issuer: gqlws\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "gqlws", cfg.Auth.Issuer)
}

func TestPointerToPath(t *testing.T) {
	assert.Equal(t, "", pointerToPath(""))
	assert.Equal(t, "log.level", pointerToPath("/log/level"))
	assert.Equal(t, "protocols[1]", pointerToPath("/protocols/1"))
	assert.Equal(t, "a/b", pointerToPath("/a~1b"))
}
