// Package mcpserver exposes the world generation pipeline as MCP tools so
// that agents can list, run and inspect worldgens.
//
// Three tools are registered:
//   - "list_worldgens" lists worldgen names and the modules providing them.
//   - "generate_world" runs a worldgen and returns the result document.
//   - "describe_map"   runs a worldgen and summarises the map, optionally
//     with the shortest path between two cells.
package mcpserver

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/tessera/internal/gridmap"
	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/observe"
)

// Backend is the part of [host.Host] the tools use.
type Backend interface {
	Modules() []host.ModuleStatus
	Worldgens() []string
	Generate(ctx context.Context, name string, params []byte) (*host.Generated, error)
	GenerateChunks(ctx context.Context, name string, params map[string]any, n int) (*gridmap.Map, error)
}

// Server wraps an MCP server whose tools call into a [Backend].
type Server struct {
	backend Backend
	metrics *observe.Metrics
	server  *mcpsdk.Server
}

// New creates a server for b and registers its tools. m may be nil, in which
// case [observe.DefaultMetrics] is used.
func New(b Backend, version string, m *observe.Metrics) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	s := &Server{
		backend: b,
		metrics: m,
		server:  mcpsdk.NewServer(&mcpsdk.Implementation{Name: "tessera", Version: version}, nil),
	}

	mcpsdk.AddTool(s.server, listWorldgensTool(), instrument(s, "list_worldgens", s.listWorldgens))
	mcpsdk.AddTool(s.server, generateWorldTool(), instrument(s, "generate_world", s.generateWorld))
	mcpsdk.AddTool(s.server, describeMapTool(), instrument(s, "describe_map", s.describeMap))
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.server }

// Serve runs the server on t until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context, t mcpsdk.Transport) error {
	if err := s.server.Run(ctx, t); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// instrument records a tool call metric and logs failures.
func instrument[In, Out any](s *Server, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "mcp."+name)
		res, out, err := h(ctx, req, in)
		observe.EndSpan(span, err)

		status := "ok"
		if err != nil {
			status = "error"
			observe.Logger(ctx).Warn("mcp tool failed", "tool", name, "err", err)
		}
		s.metrics.RecordToolCall(ctx, name, status)
		return res, out, err
	}
}
