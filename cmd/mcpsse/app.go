package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
	"github.com/MegaGrindStone/go-mcp-sse/pkg/config"
	"github.com/MegaGrindStone/go-mcp-sse/pkg/logger"
	"github.com/urfave/cli/v3"
)

const defaultTimeout = 10 * time.Second

type appCtxKey struct{}

// app is the state shared by every command, built once the global flags are parsed.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	timeout time.Duration
	out     printer
}

// globalFlags are the flags available on all commands.
var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the JSON file listing MCP servers.",
		Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
	},
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Value:   "warn",
		Usage:   "Set the log level. One of: debug, info, warn, error.",
		Sources: cli.EnvVars(config.EnvPrefix + "LOG_LEVEL"),
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: defaultTimeout,
		Usage: "How long to wait for the server to become ready and to answer.",
	},
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "mcpsse",
		Usage:     "Talk to MCP servers over Server-Sent Events",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     globalFlags,
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			lvl, err := logger.ParseLevel(cmd.String("log-level"))
			if err != nil {
				return ctx, err
			}
			log := logger.New(logger.WithWriter(stderr), logger.WithLevel(lvl))

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			log.Debug("loaded config", "file", cmd.String("config"), "servers", len(cfg.Servers))

			a := &app{
				cfg:     cfg,
				log:     log,
				timeout: cmd.Duration("timeout"),
				out:     newPrinter(stdout),
			}
			ctx = logger.WithContext(ctx, log)
			return context.WithValue(ctx, appCtxKey{}, a), nil
		},
		Commands: []*cli.Command{
			serversCommand(),
			toolsCommand(),
			callCommand(),
			watchCommand(),
		},
	}
}

func appFrom(ctx context.Context) *app {
	return ctx.Value(appCtxKey{}).(*app)
}

// connect resolves target and starts a client connecting to it.
func (a *app) connect(ctx context.Context, target string) (*mcp.Client, config.Server, error) {
	server, err := a.cfg.Resolve(target)
	if err != nil {
		return nil, server, err
	}
	a.log.Debug("connecting", "server", server.Name, "url", server.URL)

	client := mcp.NewClient(mcp.WithLogger(a.log))
	client.Connect(ctx, server.URL, server.Name)
	return client, server, nil
}

var errDisconnected = errors.New("disconnected")

// waitForTools waits for the tool list the client requests once the handshake completes.
// Errors reported before that are printed; a disconnect ends the wait with the last of them.
func (a *app) waitForTools(ctx context.Context, client *mcp.Client) ([]mcp.ToolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var lastErr string
	for {
		select {
		case ev := <-client.Events():
			switch ev.Kind {
			case mcp.EventToolsListed:
				return ev.Tools, nil
			case mcp.EventError:
				a.out.event(ev)
				lastErr = ev.Text
			case mcp.EventDisconnected:
				if lastErr != "" {
					return nil, fmt.Errorf("%w: %s", errDisconnected, lastErr)
				}
				return nil, errDisconnected
			default:
				a.log.Debug("event", "kind", ev.Kind.String(), "text", ev.Text)
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for the tool list: %w", ctx.Err())
		}
	}
}
