// Package mcp exposes the working database over the Model Context
// Protocol so assistants can query and complete actions without
// touching the vault files directly.
package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/document"
	"github.com/renlowe/paradrop/internal/domain/procstate"
)

const serverInstructions = `paradrop exposes the action database extracted from delivered
documents. Actions live in both this database and a checklist block
inside the delivered markdown file; changes made here are written back
to the file on the next reconciliation pass.`

// ActionService defines action operations needed by MCP.
type ActionService interface {
	Get(ctx context.Context, id string) (*action.Action, error)
	SetStatus(ctx context.Context, id string, status action.Status, origin action.Origin) (*action.Action, error)
	List(ctx context.Context, opts action.ListOptions) ([]action.Action, error)
}

// DocumentService defines document operations needed by MCP.
type DocumentService interface {
	Get(ctx context.Context, key string) (*document.Document, error)
	ListDelivered(ctx context.Context) ([]document.Document, error)
}

// StatusService defines processing-state operations needed by MCP.
type StatusService interface {
	Get(ctx context.Context, documentKey string) (*procstate.Record, error)
	History(ctx context.Context, documentKey string, limit int) ([]procstate.Transition, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Actions   ActionService
	Documents DocumentService
	Status    StatusService
}

// Config contains server configuration.
type Config struct {
	Services Services
	Logger   *slog.Logger
}

// NewServer creates and configures an MCP server with all tools.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "paradrop",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger))

	registerTools(server, cfg.Services)
	return server
}

func trafficLoggingMiddleware(logger *slog.Logger) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			result, err := next(ctx, method, req)
			if err != nil {
				logger.Warn("mcp request failed", "method", method, "error", err)
			} else {
				logger.Debug("mcp request", "method", method)
			}
			return result, err
		}
	}
}
