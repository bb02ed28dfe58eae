// Package mcpserver exposes session control as MCP tools over the
// streamable HTTP transport. The handler mounts at /mcp behind the same
// bearer and origin protection as the REST surface; tools are thin
// adapters over the session registry.
package mcpserver

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/session"
)

// Server holds the registry handle the tool handlers work against.
type Server struct {
	reg        *session.Registry
	scrollback int
}

// NewHandler assembles the toolset and returns the handler to mount at
// /mcp.
func NewHandler(reg *session.Registry, cfg *config.Config) http.Handler {
	s := &Server{reg: reg, scrollback: cfg.Server.Scrollback}

	mcpServer := server.NewMCPServer(
		"perch",
		config.Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: listSessionsTool(), Handler: s.handleListSessions},
		server.ServerTool{Tool: createSessionTool(), Handler: s.handleCreateSession},
		server.ServerTool{Tool: killSessionTool(), Handler: s.handleKillSession},
		server.ServerTool{Tool: getScreenTool(), Handler: s.handleGetScreen},
		server.ServerTool{Tool: getScrollbackTool(), Handler: s.handleGetScrollback},
		server.ServerTool{Tool: sendInputTool(), Handler: s.handleSendInput},
		server.ServerTool{Tool: sendKeysTool(), Handler: s.handleSendKeys},
		server.ServerTool{Tool: awaitQuiesceTool(), Handler: s.handleAwaitQuiesce},
	)

	return server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath("/mcp"),
	)
}
