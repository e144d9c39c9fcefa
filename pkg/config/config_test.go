package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/go-mcp-sse/pkg/config"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"default_server": "local",
		"mcp_servers": [
			{"name": "local", "url": "http://localhost:8080/sse"},
			{"name": "remote", "url": "https://mcp.example.com/sse"}
		]
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.DefaultServer)
	assert.Equal(t, []config.Server{
		{Name: "local", URL: "http://localhost:8080/sse"},
		{Name: "remote", URL: "https://mcp.example.com/sse"},
	}, cfg.Servers)

	s, ok := cfg.Server("remote")
	require.True(t, ok)
	assert.Equal(t, "https://mcp.example.com/sse", s.URL)

	_, ok = cfg.Server("missing")
	assert.False(t, ok)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `{"mcp_servers": [{"name": "local", "url": "http://localhost:8080/sse"}]}`)

	t.Setenv("MCPSSE_MCP_SERVERS", `[{"name":"env","url":"http://env.local/sse"}]`)
	t.Setenv("MCPSSE_DEFAULT_SERVER", "env")
	t.Setenv("MCPSSE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env", cfg.DefaultServer)
	assert.Equal(t, []config.Server{{Name: "env", URL: "http://env.local/sse"}}, cfg.Servers)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, `{"mcp_servers": [`))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &config.Config{
		DefaultServer: "nowhere",
		Servers: []config.Server{
			{Name: "", URL: "http://a.local/sse"},
			{Name: "dup", URL: "http://b.local/sse"},
			{Name: "dup", URL: "http://c.local/sse"},
			{Name: "ftp", URL: "ftp://d.local/sse"},
			{Name: "relative", URL: "/sse"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 5)
	assert.Contains(t, err.Error(), `server 0: name is empty`)
	assert.Contains(t, err.Error(), `server "dup": duplicate name`)
	assert.Contains(t, err.Error(), `server "ftp": url "ftp://d.local/sse" is not an http(s) url`)
	assert.Contains(t, err.Error(), `server "relative": url "/sse" is not an http(s) url`)
	assert.Contains(t, err.Error(), `default server "nowhere" is not configured`)
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{
		DefaultServer: "local",
		Servers:       []config.Server{{Name: "local", URL: "http://localhost:8080/sse"}},
	}

	s, err := cfg.Resolve("local")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/sse", s.URL)

	s, err = cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name)

	s, err = cfg.Resolve("https://mcp.example.com:9000/sse")
	require.NoError(t, err)
	assert.Equal(t, config.Server{Name: "mcp.example.com:9000", URL: "https://mcp.example.com:9000/sse"}, s)

	_, err = cfg.Resolve("elsewhere")
	assert.ErrorIs(t, err, config.ErrUnknownServer)

	_, err = (&config.Config{}).Resolve("")
	assert.ErrorIs(t, err, config.ErrUnknownServer)
}
