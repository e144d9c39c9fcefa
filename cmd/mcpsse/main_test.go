package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
	"github.com/MegaGrindStone/go-mcp-sse/pkg/mcptest"
	"github.com/MegaGrindStone/go-mcp-sse/pkg/toolfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runApp(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr syncBuffer
	err := newApp(&stdout, &stderr).Run(ctx, append([]string{"mcpsse", "--timeout", "5s"}, args...))
	return stdout.String(), err
}

func TestServersCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"default_server": "local",
		"mcp_servers": [
			{"name": "local", "url": "http://localhost:8080/sse"},
			{"name": "remote", "url": "https://mcp.example.com/sse"}
		]
	}`), 0o600))

	out, err := runApp(t, context.Background(), "--config", path, "servers")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "local (default)")
	assert.Contains(t, lines[1], "http://localhost:8080/sse")
	assert.Contains(t, lines[2], "remote")
}

func TestServersCommandInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcp_servers": [{"name": "x", "url": "nope"}]}`), 0o600))

	_, err := runApp(t, context.Background(), "--config", path, "servers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `url "nope" is not an http(s) url`)
}

func TestToolsCommand(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	out, err := runApp(t, context.Background(), "tools", srv.URL())
	require.NoError(t, err)

	assert.Equal(t, "echo: (message: string)\nadd: (a: number, b: number)\n", out)
}

func TestToolsCommandDetailedAndFiltered(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	out, err := runApp(t, context.Background(), "tools", "--detailed", "--filter", "ad*", srv.URL())
	require.NoError(t, err)

	assert.Contains(t, out, "Tool: add")
	assert.Contains(t, out, "  • a (number, required)")
	assert.Contains(t, out, "  add <a:number> <b:number>")
	assert.NotContains(t, out, "Tool: echo")
}

func TestToolsCommandConnectFailure(t *testing.T) {
	srv := mcptest.NewServer()
	url := srv.URL()
	srv.Close()

	_, err := runApp(t, context.Background(), "tools", url)
	require.ErrorIs(t, err, errDisconnected)
}

func TestToolsCommandUnknownServer(t *testing.T) {
	_, err := runApp(t, context.Background(), "tools", "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown server")
}

func TestCallCommand(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	out, err := runApp(t, context.Background(), "call", srv.URL(), "add", "2", "3.5")
	require.NoError(t, err)

	assert.Contains(t, out, "The sum of 2 and 3.5 is 5.5.")
}

func TestCallCommandToolError(t *testing.T) {
	srv := mcptest.NewServer(mcptest.WithTools(mcptest.Tool{
		Name:        "fail",
		Description: "Always fails",
		Call: func(map[string]any) (string, error) {
			return "", assert.AnError
		},
	}))
	defer srv.Close()

	out, err := runApp(t, context.Background(), "call", srv.URL(), "fail")
	require.ErrorIs(t, err, errToolFailed)
	assert.Contains(t, out, "error: Tool reported an error")
	assert.Contains(t, out, assert.AnError.Error())
}

func TestCallCommandArgumentErrors(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	_, err := runApp(t, context.Background(), "call", srv.URL(), "add", "two", "3")
	var argErr *toolfmt.ArgError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, toolfmt.ArgInvalidNumber, argErr.Kind)

	_, err = runApp(t, context.Background(), "call", srv.URL(), "subtract")
	require.ErrorIs(t, err, errUnknownTool)

	_, err = runApp(t, context.Background(), "call", srv.URL())
	require.ErrorIs(t, err, errUsage)
}

func TestWatchCommand(t *testing.T) {
	srv := mcptest.NewServer()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- newApp(&stdout, &stderr).Run(ctx, []string{"mcpsse", "watch", srv.URL()})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Tools (2):")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Notify("notifications/tools/list_changed", nil))

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Tool list unchanged")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}

	out := stdout.String()
	assert.Contains(t, out, "Watching 127.0.0.1")
	assert.Contains(t, out, "● Connected to")
	assert.Contains(t, out, "Initialized mcptest 1.0.0")
	assert.Contains(t, out, "  echo: (message: string)")
	assert.Contains(t, out, mcp.ToolsChangedMessage)
}
