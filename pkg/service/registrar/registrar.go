// Package registrar handles MCP tool and resource registration.
//
// Tools form the write surface (start, advance, abandon) and resources the
// read surface (definitions, status, history, artifacts, telemetry,
// knowledge). Both registrars share one metrics collector so the
// tool_metrics resource reflects every tool call.
package registrar

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/conductor-mcp/conductor/pkg/content"
	"github.com/conductor-mcp/conductor/pkg/engine"
	"github.com/conductor-mcp/conductor/pkg/knowledge"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
	"github.com/conductor-mcp/conductor/pkg/token"
)

// MCPRegistrar manages all MCP registrations.
type MCPRegistrar struct {
	toolRegistrar     *ToolRegistrar
	resourceRegistrar *ResourceRegistrar
}

// NewMCPRegistrar creates a unified registrar over the engine and store.
// discovery is the project discovery method, "autodiscover" or "manual".
func NewMCPRegistrar(
	logger *slog.Logger,
	st *store.Store,
	executor *engine.Executor,
	machine *engine.StateMachine,
	provider content.Provider,
	know *knowledge.Service,
	rec *telemetry.Recorder,
	tokens *token.Codec,
	discovery string,
) *MCPRegistrar {
	metrics := NewMetricsCollector()
	return &MCPRegistrar{
		toolRegistrar:     NewToolRegistrar(logger, executor, machine, provider, know, tokens, metrics, discovery),
		resourceRegistrar: NewResourceRegistrar(logger, st, machine, provider, know, rec, metrics),
	}
}

// RegisterAll registers all tools and resources with the MCP server.
func (r *MCPRegistrar) RegisterAll(mcpServer *server.MCPServer) error {
	if err := r.toolRegistrar.RegisterAll(mcpServer); err != nil {
		return err
	}
	return r.resourceRegistrar.RegisterAll(mcpServer)
}
