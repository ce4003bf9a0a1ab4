package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/ratelimit"
	"github.com/teemow/inboxfleet/internal/resources"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tenant"
	"github.com/teemow/inboxfleet/internal/tools/calendar_tools"
	"github.com/teemow/inboxfleet/internal/tools/gmail_tools"
	"github.com/teemow/inboxfleet/internal/tools/leads_tools"
	"github.com/teemow/inboxfleet/internal/tools/meet_tools"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"

	limiterPruneInterval = 5 * time.Minute
)

type serveOptions struct {
	transport        string
	httpAddr         string
	yolo             bool
	disableStreaming bool
	sessionToken     string
	metricsEnabled   bool
	metricsAddr      string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server.

Supports multiple transport types:
  - stdio: Standard input/output (default). Serves the single tenant named
    by --session-token or INBOXFLEET_SESSION_TOKEN.
  - streamable-http: Streamable HTTP transport. Every request carries the
    tenant's session token as "Authorization: Bearer <token>".

Safety Mode:
  By default, the server operates in read-only mode, providing only safe operations.
  Use --yolo to enable write operations (sending email, creating events).

Tenants are added with 'inboxfleet tenant import'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.transport {
			case transportStdio, transportStreamableHTTP:
			default:
				return fmt.Errorf("unsupported transport %q, must be one of: stdio, streamable-http", opts.transport)
			}

			cfg, err := globals.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("session-token") {
				cfg.SessionToken = opts.sessionToken
			}
			opts.sessionToken = cfg.SessionToken

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runServe(ctx, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().BoolVar(&opts.yolo, "yolo", false, "Enable write operations (sending email, creating events). Default is read-only mode.")
	cmd.Flags().BoolVar(&opts.disableStreaming, "disable-streaming", false, "Disable streaming for HTTP transport (for compatibility with certain clients)")
	cmd.Flags().StringVar(&opts.sessionToken, "session-token", "", "Session token of the tenant served over stdio. Overrides INBOXFLEET_SESSION_TOKEN.")
	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port (HTTP transport only)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address")

	return cmd
}

func runServe(ctx context.Context, a *app, opts serveOptions) error {
	logger := a.logger
	isStdio := opts.transport == transportStdio

	instrCfg, err := instrumentation.LoadConfig()
	if err != nil {
		return err
	}
	instrCfg.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrCfg)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	var metricsServer *server.MetricsServer
	if !isStdio && opts.metricsEnabled && provider.Enabled() {
		metricsServer, err = startMetricsServer(opts.metricsAddr, provider, logger)
		if err != nil {
			return err
		}
	}

	registry := ratelimit.NewRegistry(a.cfg.RegistryConfig())
	go registry.Run(ctx, limiterPruneInterval)

	resolver, err := session.NewResolver(session.Config{
		Store:            a.store,
		Limiters:         registry,
		Policy:           a.cfg.RetryPolicy(),
		RefreshThreshold: a.cfg.TokenRefreshThreshold,
		Endpoints:        a.cfg.Endpoints(),
		MaxPages:         a.cfg.MaxPages,
		PageSize:         a.cfg.PageSize,
		Metrics:          metrics,
		Audit:            a.audit,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if isStdio && opts.sessionToken == "" {
		logger.Warn("no session token configured, every tool call will be rejected until one is set")
	}

	serverContext := server.NewServerContext(ctx, server.Config{
		Resolver:     resolver,
		Store:        a.store,
		SessionToken: opts.sessionToken,
		ReadOnly:     !opts.yolo,
		Metrics:      metrics,
		Audit:        a.audit,
		Logger:       logger,
	})
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", logging.Err(err))
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("inboxfleet", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
	if err := registerAllTools(mcpSrv, serverContext, !opts.yolo); err != nil {
		return err
	}
	if err := resources.RegisterTenantResources(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register tenant resources: %w", err)
	}

	go runPurgeLoop(ctx, a.store, a.cfg.PurgeInterval, metrics, a.audit, logger)

	if isStdio {
		logger.Info("serving MCP over stdio", slog.Bool("read_only", !opts.yolo))
		if err := mcpserver.ServeStdio(mcpSrv); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server error: %w", err)
		}
		return nil
	}

	health := server.NewHealthChecker(serverContext, version)
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:             opts.httpAddr,
		MCPServer:        mcpSrv,
		Context:          serverContext,
		Health:           health,
		DisableStreaming: opts.disableStreaming,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping servers")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	ready := make(chan struct{})
	startErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(ready); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startErr <- err
		}
		close(startErr)
	}()

	select {
	case <-ready:
		logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
		return metricsServer, nil
	case err := <-startErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}

// registerAllTools registers every tool family. Write tools are left out
// when readOnly is set.
func registerAllTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if err := gmail_tools.RegisterGmailTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register Gmail tools: %w", err)
	}
	if err := calendar_tools.RegisterCalendarTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register Calendar tools: %w", err)
	}
	if err := meet_tools.RegisterMeetTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register Meet tools: %w", err)
	}
	if err := leads_tools.RegisterLeadsTools(s, sc); err != nil {
		return fmt.Errorf("failed to register leads tools: %w", err)
	}
	return nil
}

// sessionSweeper is the part of the tenant store the purge loop needs.
type sessionSweeper interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
	CountActiveSessions(ctx context.Context) (int64, error)
}

var _ sessionSweeper = (*tenant.Store)(nil)

// runPurgeLoop purges expired sessions every interval until ctx is done.
func runPurgeLoop(ctx context.Context, store sessionSweeper, interval time.Duration, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		purgeSessions(ctx, store, metrics, audit, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// purgeSessions runs one sweep and refreshes the active session gauge.
func purgeSessions(ctx context.Context, store sessionSweeper, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger, logger *slog.Logger) int64 {
	n, err := store.PurgeExpiredSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("failed to purge expired sessions", logging.Err(err))
		}
		return 0
	}
	if n > 0 {
		metrics.RecordSessionsPurged(ctx, n)
		audit.SessionsPurged(ctx, n)
	}

	if active, err := store.CountActiveSessions(ctx); err == nil {
		metrics.SetActiveSessions(ctx, active)
	}
	return n
}
