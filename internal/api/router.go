package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/auth"
	"github.com/ernie/whitelist-warden/internal/collector"
	"github.com/ernie/whitelist-warden/internal/domain"
)

// StatusSource reports the latest server snapshot
type StatusSource interface {
	Snapshot() *domain.StatusSnapshot
	State() collector.State
}

// Registrations is the operator view of the registration workflow
type Registrations interface {
	List(ctx context.Context) ([]domain.Registration, error)
	Revoke(ctx context.Context, target string) (*domain.Registration, error)
}

// Executor runs raw server console commands
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux           *http.ServeMux
	status        StatusSource
	registrations Registrations
	rcon          Executor
	auth          *auth.Service
	wsHub         *WebSocketHub
	log           *zap.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(status StatusSource, registrations Registrations, rcon Executor, authService *auth.Service, hub *WebSocketHub, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		mux:           http.NewServeMux(),
		status:        status,
		registrations: registrations,
		rcon:          rcon,
		auth:          authService,
		wsHub:         hub,
		log:           log.Named("api"),
	}

	r.mux.HandleFunc("GET /api/status", r.handleGetStatus)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Registration management (admin only)
	r.mux.HandleFunc("GET /api/registrations", r.requireAdmin(r.handleListRegistrations))
	r.mux.HandleFunc("DELETE /api/registrations/{target}", r.requireAdmin(r.handleRevokeRegistration))

	// RCON (admin only)
	r.mux.HandleFunc("POST /api/rcon", r.requireAdmin(r.handleRconCommand))

	// WebSocket event stream
	if hub != nil {
		r.mux.HandleFunc("GET /ws", r.handleWebSocket)
	}

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
