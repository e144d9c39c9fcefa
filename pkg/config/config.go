// Package config loads the list of named MCP servers the command-line front end can connect to.
//
// The list is read from a JSON file of the form
//
//	{
//	  "default_server": "local",
//	  "mcp_servers": [
//	    {"name": "local", "url": "http://localhost:8080/sse"}
//	  ]
//	}
//
// Environment variables prefixed with MCPSSE_ override file values: MCPSSE_DEFAULT_SERVER
// replaces the default server name and MCPSSE_MCP_SERVERS replaces the server list with a JSON
// array of the same shape.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override the config file.
const EnvPrefix = "MCPSSE_"

// ErrUnknownServer is returned by Resolve when a target is neither a configured name nor a URL.
var ErrUnknownServer = errors.New("unknown server")

// Config is the named server list.
type Config struct {
	DefaultServer string   `koanf:"default_server"`
	Servers       []Server `koanf:"mcp_servers"`
}

// Server is a named MCP server and its SSE stream URL.
type Server struct {
	Name string `koanf:"name"`
	URL  string `koanf:"url"`
}

// Load reads the config file at path, applies environment overrides and validates the result.
// An empty path skips the file, so the configuration comes from the environment alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, "", envValue), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envValue maps MCPSSE_DEFAULT_SERVER and MCPSSE_MCP_SERVERS onto config keys and skips the
// other prefixed variables, which belong to the command-line flags.
func envValue(key, value string) (string, any) {
	switch strings.TrimPrefix(key, EnvPrefix) {
	case "DEFAULT_SERVER":
		return "default_server", value
	case "MCP_SERVERS":
		var servers []any
		if err := json.Unmarshal([]byte(value), &servers); err != nil {
			// Left as a string so unmarshaling reports the bad value.
			return "mcp_servers", value
		}
		return "mcp_servers", servers
	default:
		return "", nil
	}
}

// Validate reports every empty or duplicate name, every URL that isn't an absolute http(s)
// URL, and a default server that isn't configured.
func (c *Config) Validate() error {
	var result *multierror.Error

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		switch {
		case s.Name == "":
			result = multierror.Append(result, fmt.Errorf("server %d: name is empty", i))
		case seen[s.Name]:
			result = multierror.Append(result, fmt.Errorf("server %q: duplicate name", s.Name))
		}
		seen[s.Name] = true

		if !isHTTPURL(s.URL) {
			result = multierror.Append(result, fmt.Errorf("server %q: url %q is not an http(s) url", s.Name, s.URL))
		}
	}

	if c.DefaultServer != "" && !seen[c.DefaultServer] {
		result = multierror.Append(result, fmt.Errorf("default server %q is not configured", c.DefaultServer))
	}

	return result.ErrorOrNil()
}

// Server returns the server named name.
func (c *Config) Server(name string) (Server, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

// Resolve turns a command-line target into a server. A configured name wins over a URL; an
// http(s) URL that isn't configured is used as is, named after its host. An empty target
// selects the default server.
func (c *Config) Resolve(target string) (Server, error) {
	if target == "" {
		if c.DefaultServer == "" {
			return Server{}, fmt.Errorf("%w: no server given and no default server configured", ErrUnknownServer)
		}
		target = c.DefaultServer
	}

	if s, ok := c.Server(target); ok {
		return s, nil
	}
	if isHTTPURL(target) {
		u, _ := url.Parse(target)
		return Server{Name: u.Host, URL: target}, nil
	}
	return Server{}, fmt.Errorf("%w: %q", ErrUnknownServer, target)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
