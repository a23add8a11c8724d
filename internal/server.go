package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/wirebird/wirebird/internal/config"
	"github.com/wirebird/wirebird/internal/gateway"
)

// Server hosts the health endpoint and the agent websocket gateway.
type Server struct {
	server  *http.Server
	env     *config.Env
	gateway *gateway.Handler
}

func NewServer(env *config.Env, gw *gateway.Handler) *Server {
	return &Server{env: env, gateway: gw}
}

// ListenAndServe starts the HTTP server. The provided context is the
// base context for all incoming requests, so cancelling it (on a
// shutdown signal) also cancels every agent connection handler.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Handle("/health", &HealthChecker{})
	r.Get("/ws/agent/{name}/{secret}", s.gateway.ServeAgent)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(r),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
