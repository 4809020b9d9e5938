package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/registration"
	"github.com/ernie/whitelist-warden/internal/registry"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// StatusResponse wraps the latest snapshot with the poller's state
type StatusResponse struct {
	Polled   bool                   `json:"polled"`
	Poller   string                 `json:"poller"`
	Snapshot *domain.StatusSnapshot `json:"snapshot,omitempty"`
}

// handleGetStatus returns the last poll result
func (r *Router) handleGetStatus(w http.ResponseWriter, req *http.Request) {
	snap := r.status.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Polled:   snap != nil,
		Poller:   r.status.State().String(),
		Snapshot: snap,
	})
}

// RegistrationsResponse is a page of registrations
type RegistrationsResponse struct {
	Total         int                   `json:"total"`
	Registrations []domain.Registration `json:"registrations"`
}

// handleListRegistrations returns committed registrations, oldest first
func (r *Router) handleListRegistrations(w http.ResponseWriter, req *http.Request) {
	regs, err := r.registrations.List(req.Context())
	if err != nil {
		r.log.Error("listing registrations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list registrations")
		return
	}

	limit := parseLimit(req, 100, 1000)
	offset := parseOffset(req)

	page := []domain.Registration{}
	if offset < len(regs) {
		end := min(offset+limit, len(regs))
		page = regs[offset:end]
	}
	writeJSON(w, http.StatusOK, RegistrationsResponse{Total: len(regs), Registrations: page})
}

// handleRevokeRegistration removes a player by requester id or game name
func (r *Router) handleRevokeRegistration(w http.ResponseWriter, req *http.Request) {
	target := req.PathValue("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	reg, err := r.registrations.Revoke(req.Context(), target)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reg)
	case errors.Is(err, registry.ErrNotRegistered):
		writeError(w, http.StatusNotFound, "not registered")
	case errors.Is(err, registration.ErrRemoveRejected):
		writeError(w, http.StatusConflict, err.Error())
	default:
		r.log.Error("revoking registration", zap.String("target", target), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to revoke registration")
	}
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
