// Package service assembles the orchestrator: store, engine, content
// provider, knowledge service, and the MCP registrars, served over stdio.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/conductor-mcp/conductor/pkg/content"
	"github.com/conductor-mcp/conductor/pkg/engine"
	"github.com/conductor-mcp/conductor/pkg/knowledge"
	"github.com/conductor-mcp/conductor/pkg/service/config"
	"github.com/conductor-mcp/conductor/pkg/service/registrar"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
	"github.com/conductor-mcp/conductor/pkg/token"
)

// Server is a fully wired orchestrator ready to serve MCP over stdio.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	sweeper *engine.Sweeper
	mcp     *server.MCPServer
}

// New opens the store, applies pending migrations, wires the engine and
// registers the MCP surface. The returned server owns the store; Close
// releases it.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := st.Migrate(ctx, store.MigrateOptions{}); err != nil {
		st.Close()
		return nil, err
	}

	provider, err := newProvider(ctx, cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	rec := telemetry.NewRecorder(st, logger)
	machine := engine.NewStateMachine(st, rec, logger)
	codec := token.NewCodec()
	executor := engine.NewExecutor(st, machine, codec, rec, logger)
	know := knowledge.NewService(st, logger)

	mcpServer := server.NewMCPServer(
		cfg.ServiceName,
		cfg.ServiceVersion,
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	reg := registrar.NewMCPRegistrar(logger, st, executor, machine, provider, know, rec, codec, cfg.DiscoveryMethod)
	if err := reg.RegisterAll(mcpServer); err != nil {
		st.Close()
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		store:  st,
		mcp:    mcpServer,
	}
	if cfg.SweepInterval > 0 {
		s.sweeper = engine.NewSweeper(st, machine, rec, logger, cfg.SweepInterval)
	}
	return s, nil
}

// newProvider builds the configured content backend. The database backend is
// seeded from the content path when seeding is enabled, so both backends can
// serve the same content root.
func newProvider(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (content.Provider, error) {
	switch cfg.Backend {
	case "database":
		if cfg.SeedDB {
			if err := content.Seed(ctx, st, cfg.ContentPath, logger); err != nil {
				return nil, err
			}
		}
		return content.NewDatabaseProvider(st, logger), nil
	default:
		return content.NewFilesystemProvider(cfg.ContentPath, logger), nil
	}
}

// Serve blocks serving MCP over stdio until the client disconnects or ctx is
// cancelled. The timeout sweeper, when configured, runs alongside.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.sweeper != nil {
		go s.sweeper.Run(ctx)
	}

	s.logger.Info("Serving MCP over stdio",
		"service", s.cfg.ServiceName,
		"version", s.cfg.ServiceVersion,
		"db", s.cfg.DBPath,
		"backend", s.cfg.Backend)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcp)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close releases the store.
func (s *Server) Close() error {
	return s.store.Close()
}
