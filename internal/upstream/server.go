// Package upstream hosts the aggregated MCP endpoint: session init over
// POST, a server-initiated notification stream over GET, DELETE teardown,
// a liveness probe, and the bearer-token presence gate in front of all of
// it except the probe and the resource-metadata discovery route.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdkserver "github.com/mark3labs/mcp-go/server"

	"mcpmux/internal/activeset"
	"mcpmux/internal/dispatcher"
	"mcpmux/pkg/logging"
)

// ShutdownTimeout bounds how long the HTTP server waits for in-flight
// requests to drain before the process finishes tearing down backends.
const ShutdownTimeout = 5 * time.Second

// ResourceMetadataPath is advertised in the 401 WWW-Authenticate header so
// clients can discover how to obtain a bearer token.
const ResourceMetadataPath = "/.well-known/oauth-protected-resource"

// Server hosts the streamable-HTTP MCP transport behind a small mux adding
// /health and resource-metadata discovery, plus an auth-presence gate.
type Server struct {
	addr       string
	dispatcher *dispatcher.Dispatcher
	manager    *activeset.Manager

	// KeepOpen mirrors KEEP_SERVER_OPEN: when false, an explicit session
	// teardown (DELETE /mcp) closes doneCh, signaling the caller's run loop
	// to shut the process down rather than wait for further clients.
	KeepOpen bool

	httpHandler *sdkserver.StreamableHTTPServer

	mu         sync.Mutex
	httpServer *http.Server
	startedAt  time.Time
	doneCh     chan struct{}
	doneOnce   sync.Once
}

// New creates a Server that will listen on addr (host:port) once Start is
// called.
func New(addr string, d *dispatcher.Dispatcher, manager *activeset.Manager) *Server {
	return &Server{
		addr:        addr,
		dispatcher:  d,
		manager:     manager,
		httpHandler: sdkserver.NewStreamableHTTPServer(d.Server(),
			sdkserver.WithKeepAlive(true),
			sdkserver.WithKeepAliveInterval(4*time.Minute),
		),
		doneCh:      make(chan struct{}),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Done returns a channel closed after the first explicit session teardown
// (DELETE /mcp) when KeepOpen is false, signaling the caller that it may
// shut the process down. A client that disconnects without sending DELETE
// does not close it. It never fires when KeepOpen is true.
func (s *Server) Done() <-chan struct{} {
	return s.doneCh
}

// Start begins serving in the background. It returns once the listener is
// set up; ListenAndServe errors other than a clean shutdown are reported to
// errorCallback.
func (s *Server) Start(errorCallback func(error)) {
	mux := s.buildMux()

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	s.startedAt = time.Now()
	server := s.httpServer
	s.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("upstream", err, "HTTP server error")
			if errorCallback != nil {
				errorCallback(err)
			}
		}
	}()

	logging.Info("upstream", "serving MCP endpoint on %s/mcp", s.addr)
}

// Stop implements the shutdown sequence: stop accepting new requests, then
// close every active Backend Client in parallel with a hard deadline per
// client (delegated to the Active Set Manager).
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("upstream", "HTTP server shutdown did not complete cleanly: %v", err)
	}

	s.manager.Shutdown()
	return nil
}

func (s *Server) buildMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(ResourceMetadataPath, s.handleResourceMetadata)
	mux.Handle("/", s.authGate(s.teardownWatch(s.httpHandler)))

	return mux
}

// teardownWatch closes doneCh after an explicit DELETE /mcp session teardown
// completes, unless KeepOpen is set — letting an ephemeral, spawn-per-client
// deployment exit on its own rather than waiting to be signaled externally.
func (s *Server) teardownWatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if r.Method == http.MethodDelete && !s.KeepOpen {
			s.doneOnce.Do(func() { close(s.doneCh) })
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := s.httpServer != nil
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","transport_active":%t,"timestamp":%q}`,
		active, time.Now().UTC().Format(time.RFC3339))
}

// handleResourceMetadata serves the minimal OAuth protected-resource
// metadata document a bearer-token client needs to discover this resource;
// it does not itself require authentication.
func (s *Server) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"resource":"http://%s/mcp","bearer_methods_supported":["header"]}`, r.Host)
}

// authGate requires the presence (not validity) of an Authorization: Bearer
// header on every route other than /health and the resource-metadata
// discovery route, per the bearer-token gate in the default deployment.
func (s *Server) authGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") || strings.TrimPrefix(authz, "Bearer ") == "" {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Bearer resource_metadata="http://%s%s"`, r.Host, ResourceMetadataPath))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"jsonrpc":"2.0","error":{"code":-32001,"message":"missing or invalid bearer token"},"id":null}`)
			logging.Audit(logging.AuditEvent{
				Action:  "upstream_auth",
				Outcome: "failure",
				Target:  r.URL.Path,
			})
			return
		}
		logging.Debug("upstream", "authenticated request, token=%s", logging.TruncateSessionID(strings.TrimPrefix(authz, "Bearer ")))
		next.ServeHTTP(w, r)
	})
}
