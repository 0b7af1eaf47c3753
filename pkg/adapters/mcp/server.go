// Package mcp exposes the engine as a Model Context Protocol server,
// so agent hosts can run conversation turns and manage sessions as
// tools over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mazzlabs/sentinel"
	"github.com/mazzlabs/sentinel/internal/agent"
	"github.com/mazzlabs/sentinel/internal/logging"
	presentation "github.com/mazzlabs/sentinel/internal/presentation/graph"
	"github.com/mazzlabs/sentinel/pkg/domain"
	enginegraph "github.com/mazzlabs/sentinel/pkg/graph"
)

// TurnResult is the structured output of the run_turn tool. It mirrors
// the HTTP turn response so both adapters present turns the same way.
type TurnResult struct {
	ConversationID string         `json:"conversation_id" jsonschema_description:"The conversation the turn ran in"`
	Intent         string         `json:"intent,omitempty" jsonschema_description:"Classified intent of the query"`
	Response       string         `json:"response,omitempty" jsonschema_description:"Assistant reply text"`
	Action         *domain.Action `json:"action,omitempty" jsonschema_description:"Device action decided by the turn"`
	NeedsUserInput bool           `json:"needs_user_input,omitempty" jsonschema_description:"True when the assistant is waiting on the user"`
	HaltReason     string         `json:"halt_reason,omitempty" jsonschema_description:"Halt classification when the turn stopped early"`
	Error          string         `json:"error,omitempty" jsonschema_description:"Turn error message, when halted"`
}

// SessionRecord is the structured output of the get_session tool: the
// stored conversation trimmed to its transferable fields.
type SessionRecord struct {
	ConversationID string           `json:"conversation_id"`
	History        []domain.Message `json:"history,omitempty"`
	Intent         string           `json:"intent,omitempty"`
	Response       string           `json:"response,omitempty"`
	VisitedNodes   []string         `json:"visited_nodes,omitempty"`
	IsComplete     bool             `json:"is_complete"`
	HaltReason     string           `json:"halt_reason,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// DeleteResult is the structured output of the delete_session tool.
type DeleteResult struct {
	ConversationID string `json:"conversation_id"`
	Deleted        bool   `json:"deleted"`
}

// Engine defines the interface required by the MCP server.
type Engine interface {
	RunTurn(ctx context.Context, conversationID, query, screenContext string) (domain.State, error)
	Sessions(ctx context.Context) ([]string, error)
	Session(ctx context.Context, conversationID string) (domain.State, error)
	DeleteSession(ctx context.Context, conversationID string) error
}

// Server wraps the engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	topology  *enginegraph.Graph
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the structured logger. The default discards. Logs
// must never go to stdout: the stdio transport speaks JSON-RPC there.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("sentinel-mcp", strings.TrimSpace(sentinel.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}

	// The default pipeline topology backs the introspection surface.
	if g, err := agent.BuildGraph(agent.NewNodes(nil)); err == nil {
		s.topology = g
	} else {
		s.logger.Error("failed to build pipeline topology", "err", err)
	}

	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", s.corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		// Create a timeout context for the graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println("\nShutdown signal received, shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("CORS Middleware", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Baggage, Sentry-Trace")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: run_turn
	runTool := mcp.NewTool("run_turn",
		mcp.WithDescription("Run one conversation turn: classify the query, decide a device action or reply, and persist the session."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The user's query for this turn")),
		mcp.WithString("conversation_id", mcp.Description("Conversation to continue (optional; a fresh one is created when omitted)")),
		mcp.WithString("screen_context", mcp.Description("Textual snapshot of the current screen (optional)")),
		mcp.WithOutputSchema[TurnResult](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunTurn))

	// TOOL: get_session
	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Get the stored state of a conversation, including its archived history."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("The conversation to fetch")),
		mcp.WithOutputSchema[SessionRecord](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetSession))

	// TOOL: delete_session
	deleteTool := mcp.NewTool("delete_session",
		mcp.WithDescription("Remove a conversation's stored state."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("The conversation to remove")),
		mcp.WithOutputSchema[DeleteResult](),
	)
	s.mcpServer.AddTool(deleteTool, mcp.NewStructuredToolHandler(s.handleDeleteSession))

	// TOOL: list_sessions
	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the ids of all stored conversations."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, err := s.engine.Sessions(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		if sessions == nil {
			sessions = []string{}
		}
		jsonBytes, _ := json.Marshal(sessions)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: get_graph
	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the reasoning pipeline as a Mermaid diagram for introspection."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.topology == nil {
			return mcp.NewToolResultError("pipeline topology unavailable"), nil
		}
		return mcp.NewToolResultText(presentation.GenerateMermaid(s.topology, nil)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleRunTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResult, error) {
	query, _ := args["query"].(string)
	conversationID, _ := args["conversation_id"].(string)
	screen, _ := args["screen_context"].(string)

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	state, err := s.engine.RunTurn(ctx, conversationID, query, screen)
	if err != nil {
		s.logger.Warn("MCP run_turn failed", "conversation_id", conversationID, "err", err)
		return TurnResult{}, fmt.Errorf("turn failed: %w", err)
	}

	result := TurnResult{
		ConversationID: state.ConversationID,
		Intent:         string(state.Intent),
		Response:       state.Response,
		Action:         state.FinalAction,
		NeedsUserInput: state.NeedsUserInput,
	}
	if state.HaltReason != domain.HaltNone {
		result.HaltReason = string(state.HaltReason)
		result.Error = state.Error
	}
	return result, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionRecord, error) {
	conversationID, _ := args["conversation_id"].(string)

	state, err := s.engine.Session(ctx, conversationID)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("session %q: %w", conversationID, err)
	}

	return SessionRecord{
		ConversationID: state.ConversationID,
		History:        state.History,
		Intent:         string(state.Intent),
		Response:       state.Response,
		VisitedNodes:   state.VisitedNodes,
		IsComplete:     state.IsComplete,
		HaltReason:     string(state.HaltReason),
		Error:          state.Error,
	}, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DeleteResult, error) {
	conversationID, _ := args["conversation_id"].(string)

	if err := s.engine.DeleteSession(ctx, conversationID); err != nil {
		return DeleteResult{}, fmt.Errorf("delete %q: %w", conversationID, err)
	}
	return DeleteResult{ConversationID: conversationID, Deleted: true}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: sentinel://graph
	s.mcpServer.AddResource(mcp.NewResource("sentinel://graph", "Reasoning Pipeline Topology",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if s.topology == nil {
			return nil, fmt.Errorf("pipeline topology unavailable")
		}
		definition := struct {
			Entry string             `json:"entry"`
			Nodes []string           `json:"nodes"`
			Edges []enginegraph.Edge `json:"edges"`
		}{
			Entry: s.topology.Entry(),
			Nodes: s.topology.Nodes(),
			Edges: s.topology.Edges(),
		}
		jsonBytes, _ := json.Marshal(definition)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "sentinel://graph",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
