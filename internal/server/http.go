package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/session"
)

// MCPEndpoint is the path of the streamable HTTP transport.
const MCPEndpoint = "/mcp"

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	Addr      string
	MCPServer *mcpserver.MCPServer
	Context   *ServerContext
	Health    *HealthChecker
	// DisableStreaming answers every call with a plain JSON response.
	DisableStreaming bool
	Metrics          *instrumentation.Metrics
	Logger           *slog.Logger
}

// HTTPServer exposes the MCP server over streamable HTTP. Every /mcp
// request must carry a session token as bearer; the health endpoints are
// unauthenticated.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	logger     *slog.Logger
}

// NewHTTPServer builds the HTTP server.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.MCPServer == nil {
		return nil, fmt.Errorf("mcp server is required")
	}
	if cfg.Context == nil || cfg.Context.Resolver() == nil {
		return nil, fmt.Errorf("server context with a tenant resolver is required")
	}
	logger := logging.OrDefault(cfg.Logger)

	opts := []mcpserver.StreamableHTTPOption{
		mcpserver.WithEndpointPath(MCPEndpoint),
		// Each request authenticates on its own, so no MCP session state
		// is kept between requests.
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if tc, ok := session.FromContext(r.Context()); ok {
				return session.WithTenantContext(ctx, tc)
			}
			return ctx
		}),
	}
	if cfg.DisableStreaming {
		opts = append(opts, mcpserver.WithDisableStreaming(true))
	}
	streamable := mcpserver.NewStreamableHTTPServer(cfg.MCPServer, opts...)

	mux := http.NewServeMux()
	mux.Handle(MCPEndpoint, instrumentHTTP(MCPEndpoint, cfg.Metrics,
		RequireSession(cfg.Context.Resolver(), logger, streamable)))

	health := cfg.Health
	if health == nil {
		health = NewHealthChecker(cfg.Context, "")
	}
	health.RegisterHealthEndpoints(mux)

	return &HTTPServer{
		addr:   cfg.Addr,
		logger: logger,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			// Tool calls may wait on rate limiters and retries.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown. It blocks.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("starting MCP HTTP server", slog.String("addr", s.addr), slog.String("endpoint", MCPEndpoint))
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	return s.addr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrumentHTTP records request counts and durations under a fixed route
// label.
func instrumentHTTP(route string, m *instrumentation.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, time.Since(start))
	})
}
