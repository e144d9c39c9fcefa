package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
	"github.com/MegaGrindStone/go-mcp-sse/pkg/toolfmt"
	"github.com/urfave/cli/v3"
)

const defaultQuietPeriod = 250 * time.Millisecond

var (
	errUsage       = errors.New("usage")
	errToolFailed  = errors.New("tool reported an error")
	errUnknownTool = errors.New("unknown tool")
)

func serversCommand() *cli.Command {
	return &cli.Command{
		Name:  "servers",
		Usage: "List the configured servers",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			if len(a.cfg.Servers) == 0 {
				a.out.plain("No servers configured.")
				return nil
			}

			w := tabwriter.NewWriter(a.out.w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tURL\t")
			for _, s := range a.cfg.Servers {
				name := s.Name
				if name == a.cfg.DefaultServer {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\t\n", name, s.URL)
			}
			return w.Flush()
		},
	}
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:      "tools",
		Usage:     "List the tools a server provides",
		ArgsUsage: "[server|url]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "detailed",
				Aliases: []string{"d"},
				Usage:   "Describe every parameter of each tool.",
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "Only list tools whose name matches the glob pattern.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)

			client, _, err := a.connect(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			defer client.Close()

			tools, err := a.waitForTools(ctx, client)
			if err != nil {
				return err
			}
			tools, err = toolfmt.Filter(tools, cmd.String("filter"))
			if err != nil {
				return err
			}
			if len(tools) == 0 {
				a.out.plain("No tools.")
				return nil
			}

			for _, tool := range tools {
				if !cmd.Bool("detailed") {
					a.out.plain(toolfmt.Compact(tool))
					continue
				}
				for _, l := range toolfmt.Detailed(tool) {
					a.out.plain(l)
				}
			}
			return nil
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Call a tool with positional arguments converted by its input schema",
		ArgsUsage: "<server|url> <tool> [args...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "quiet-period",
				Value: defaultQuietPeriod,
				Usage: "How long output must stay quiet after the reply before exiting.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			if cmd.NArg() < 2 {
				return fmt.Errorf("%w: mcpsse call <server|url> <tool> [args...]", errUsage)
			}
			target, name, args := cmd.Args().Get(0), cmd.Args().Get(1), cmd.Args().Slice()[2:]

			client, _, err := a.connect(ctx, target)
			if err != nil {
				return err
			}
			defer client.Close()

			tools, err := a.waitForTools(ctx, client)
			if err != nil {
				return err
			}
			tool, ok := findTool(tools, name)
			if !ok {
				return fmt.Errorf("%w: %s", errUnknownTool, name)
			}
			arguments, err := toolfmt.ArgsToJSON(args, tool.InputSchema)
			if err != nil {
				return err
			}

			return a.call(ctx, client, name, arguments, cmd.Duration("quiet-period"))
		},
	}
}

type callResult struct {
	msg mcp.JSONRPCMessage
	err error
}

// call invokes the tool and prints the events it produces. The result is rendered by the
// client's formatter as Message events, which may still arrive after the reply itself, so
// printing continues until no event has arrived for quiet.
func (a *app) call(ctx context.Context, client *mcp.Client, name string, arguments json.RawMessage, quiet time.Duration) error {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		msg, err := client.Call(callCtx, mcp.MethodToolsCall, map[string]any{
			"name":      name,
			"arguments": arguments,
		})
		done <- callResult{msg: msg, err: err}
	}()

	timer := time.NewTimer(quiet)
	timer.Stop()

	var res *callResult
	for {
		select {
		case ev := <-client.Events():
			if ev.Kind != mcp.EventDebug && ev.Kind != mcp.EventToolsListed {
				a.out.event(ev)
			}
			if res != nil {
				timer.Reset(quiet)
			}
		case r := <-done:
			res = &r
			timer.Reset(quiet)
		case <-timer.C:
			return callOutcome(res)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func callOutcome(res *callResult) error {
	if res.err != nil {
		var rpcErr *mcp.JSONRPCError
		if errors.As(res.err, &rpcErr) {
			return fmt.Errorf("call failed: %w", rpcErr)
		}
		return res.err
	}

	var result struct {
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(res.msg.Result, &result); err == nil && result.IsError {
		return errToolFailed
	}
	return nil
}

func findTool(tools []mcp.ToolInfo, name string) (mcp.ToolInfo, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return mcp.ToolInfo{}, false
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Print every event from a server until interrupted",
		ArgsUsage: "[server|url]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Also print diagnostic events.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)

			client, server, err := a.connect(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			defer client.Close()

			a.out.line(boldStyle, fmt.Sprintf("Watching %s (%s)", server.Name, server.URL))
			return a.watch(ctx, client, cmd.Bool("debug"))
		},
	}
}

// watch prints events until ctx ends or the connection terminates. A tool list is printed in
// full the first time and as a diff afterwards; a tool list change notification triggers a
// new listing.
func (a *app) watch(ctx context.Context, client *mcp.Client, debug bool) error {
	var listed []mcp.ToolInfo
	first := true

	for {
		select {
		case ev := <-client.Events():
			switch ev.Kind {
			case mcp.EventToolsListed:
				if first {
					first = false
					a.out.line(boldStyle, fmt.Sprintf("Tools (%d):", len(ev.Tools)))
					for _, tool := range ev.Tools {
						a.out.plain("  " + toolfmt.Compact(tool))
					}
				} else if diff := toolfmt.Diff(listed, ev.Tools); len(diff) == 0 {
					a.out.line(feintStyle, "Tool list unchanged")
				} else {
					a.out.line(boldStyle, "Tool list changed:")
					a.out.diff(diff)
				}
				listed = ev.Tools
			case mcp.EventDebug:
				if debug {
					a.out.event(ev)
				}
			case mcp.EventDisconnected:
				a.out.event(ev)
				return nil
			default:
				a.out.event(ev)
				if ev.Kind == mcp.EventMessage && ev.Text == mcp.ToolsChangedMessage {
					client.ListTools()
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
