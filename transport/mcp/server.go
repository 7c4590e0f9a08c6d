// Package mcp is the out-of-core MCP transport adapter: it exposes the
// Tool Interface (internal/toolapi) over the Model Context Protocol —
// one gomcp.AddTool call per named operation, dispatched by name table
// rather than reflection.
package mcp

import (
	"context"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/toolapi"
)

// Server exposes a Knowledge Base's Tool Interface as an MCP server.
type Server struct {
	api     *toolapi.API
	version string
	server  *gomcp.Server
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string reported in the MCP
// Implementation handshake.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer wraps graph's Tool Interface as an MCP server attributing
// every mutation to user.
func NewServer(graph *kb.KB, user string, opts ...Option) *Server {
	s := &Server{api: toolapi.New(graph, user), version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "kgraphd", Version: s.version},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdin/stdout. It blocks until the client
// disconnects or ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// registerTools wires one gomcp.AddTool call per Tool Interface
// operation.
func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_entities",
		Description: "Create one or more entities in the knowledge graph. Duplicates (by name) are silently skipped.",
	}, s.handleCreateEntities)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_relations",
		Description: "Create one or more directed relations between existing entities.",
	}, s.handleCreateRelations)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "add_observations",
		Description: "Append observation strings to existing entities. Duplicate observations are silently skipped.",
	}, s.handleAddObservations)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_entities",
		Description: "Delete entities by name, cascading to every relation touching them.",
	}, s.handleDeleteEntities)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_observations",
		Description: "Remove specific observation strings from named entities.",
	}, s.handleDeleteObservations)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_relations",
		Description: "Delete relations identified by (from, to, relationType).",
	}, s.handleDeleteRelations)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "read_graph",
		Description: "Read a page of the graph: entities and every relation touching that page.",
	}, s.handleReadGraph)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "search_nodes",
		Description: "Search entities by token, with synonym expansion, falling back to a full scan.",
	}, s.handleSearchNodes)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "open_nodes",
		Description: "Look up entities by exact name, plus relations whose both endpoints are in the result.",
	}, s.handleOpenNodes)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_related",
		Description: "List entities related to a given entity, optionally filtered by relation type and direction.",
	}, s.handleGetRelated)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "traverse",
		Description: "Multi-hop breadth-bounded path expansion from a start node.",
	}, s.handleTraverse)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "summarize",
		Description: "Summarize entities: brief, detailed, or aggregate stats.",
	}, s.handleSummarize)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_relations_at_time",
		Description: "List relations whose temporal validity window contains the given (or current) timestamp.",
	}, s.handleGetRelationsAtTime)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_relation_history",
		Description: "List every relation touching an entity regardless of temporal validity.",
	}, s.handleGetRelationHistory)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_current_time",
		Description: "Return the current time as a structured datetime.",
	}, s.handleGetCurrentTime)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "infer",
		Description: "Derive transitive relations by BFS over the graph with per-hop confidence decay.",
	}, s.handleInfer)
}

// toolError maps a toolapi error to the MCP tool-call error convention:
// a non-nil error return becomes a structured isError result on the
// client side. invalidParams errors are distinguished only by message
// text and let the SDK format them.
func toolError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
