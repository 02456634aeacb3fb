package ipc

import (
	"context"
	"net/http"
	"time"
)

// Server wraps an HTTP server with agentloop routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Session endpoints.
	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/v1/sessions", h.ListSessions)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.TerminateSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", h.SessionInput)
	mux.HandleFunc("POST /api/v1/sessions/{id}/resize", h.ResizeSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/output", h.SessionOutput)
	mux.HandleFunc("GET /api/v1/sessions/{id}/metrics", h.SessionMetrics)

	// Job endpoints.
	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/start", h.StartJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/advance", h.AdvanceJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/approve", h.ApproveJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/fix", h.FixJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/retry", h.RetryJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/reviews", h.ListReviews)
	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", h.StreamJob)

	mux.HandleFunc("GET /api/v1/audit", h.ListAudit)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
	}
}

// Handler returns the routed handler, for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for local dashboard access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
