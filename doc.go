// Package mcp implements a Model Context Protocol (MCP) client for the HTTP+SSE transport
// described in https://spec.modelcontextprotocol.io/specification/2024-11-05/basic/transports/.
//
// The server pushes responses and notifications over a long-lived Server-Sent Events stream,
// while the client submits JSON-RPC requests with separate POSTs to a session endpoint that the
// server announces as the first frame of that stream. Client hides this split: it discovers the
// endpoint, performs the initialize handshake, lists the server's tools, and correlates every
// response with the request that produced it.
//
// Everything the client observes is published as an Event on a bounded channel, which makes it
// suitable for interactive front ends that poll once per render tick:
//
//	client := mcp.NewClient()
//	client.Connect(ctx, "http://localhost:8080/sse", "local")
//	for ev := range client.Events() {
//		switch ev.Kind {
//		case mcp.EventToolsListed:
//			client.CallTool(ev.Tools[0].Name, json.RawMessage(`{}`))
//		case mcp.EventMessage:
//			fmt.Println(ev.Text)
//		}
//	}
//
// Large tool results are pretty-printed off the receive loop and truncated to a bounded number
// of lines, so a single oversized payload cannot stall the stream or flood the consumer.
package mcp
