// Package mcp is the root of the MCP HTTP transport for Go. It re-exports
// the handle constructor and options from pkg/transport.
//
// # Overview
//
// The module consists of several sub-packages:
//
//   - pkg/transport: Connection handles speaking streamable HTTP with a legacy SSE fallback
//   - pkg/oauth: WWW-Authenticate parsing and OAuth metadata discovery
//   - pkg/sse: Server-Sent Events reader
//   - pkg/errors: Structured error types
//   - pkg/logging: Leveled structured logging
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Connecting to a Server
//
// A handle reports everything it receives to an owner implementing
// transport.Proxy:
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/mcp-http-transport"
//	    "github.com/ajitpratap0/mcp-http-transport/pkg/transport"
//	)
//
//	func main() {
//	    h, err := mcp.NewHandle("server-1", transport.LaunchConfig{
//	        URI: "https://mcp.example.com/mcp",
//	    }, owner, mcp.WithMaxRedirects(3))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer h.Dispose()
//
//	    h.Send(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
//	}
//
// See examples/streamable-http-client for a complete program.
package mcp
