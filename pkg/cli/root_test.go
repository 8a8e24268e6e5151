package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		jsonOutput = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gqlws ")
	assert.Contains(t, out, runtime.Version())
}

func TestVersion_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var v VersionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, runtime.GOOS, v.OS)
	assert.NotEmpty(t, v.Version)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("keepAlive: 5s\n"), 0644))
	require.NoError(t, os.WriteFile(bad, []byte("readLimit: -1\n"), 0644))

	out, err := execute(t, "config", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = execute(t, "config", "validate", bad)
	assert.ErrorContains(t, err, "readLimit: must be > 0")
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "keepAlive: 12s")
	assert.Contains(t, out, "- graphql-transport-ws")

	out, err = execute(t, "config", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"connectionInitTimeout": "3s"`)
}

func TestSubscribe_RequiresQuery(t *testing.T) {
	_, err := execute(t, "subscribe", "ws://localhost:1/graphql")
	assert.ErrorContains(t, err, "query")
}

func TestConfigShow_RedactsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwtSecret: supersecretsigningkey\n"), 0644))

	out, err := execute(t, "config", "show", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "supersecretsigningkey")
	assert.Contains(t, out, redacted)
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
	assert.Contains(t, out, `"websocketPath"`)
}
