package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/mcp/tools"
	"github.com/aves-app/aves-engine/pkg/middleware"
)

// Server exposes the read-only engine tools over MCP.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server with the health and review tools registered.
func NewServer(version string, deps *tools.ReviewToolDeps, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"aves-engine",
		version,
		server.WithToolCapabilities(true),
	)

	tools.RegisterHealthTool(mcpServer, version)
	tools.RegisterReviewTools(mcpServer, deps)

	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Handler returns the stateless streamable HTTP transport with request
// logging. The caller mounts it (at /mcp) and wraps it with auth.
func (s *Server) Handler() http.Handler {
	transport := server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
	return middleware.MCPRequestLogger(s.logger)(transport)
}
