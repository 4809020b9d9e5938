package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// RconRequest is the request body for RCON commands
type RconRequest struct {
	Command string `json:"command"`
}

// RconResponse is the response body for RCON commands
type RconResponse struct {
	Output string `json:"output"`
}

// handleRconCommand executes a console command on the server (admin only)
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	var rconReq RconRequest
	if err := json.NewDecoder(req.Body).Decode(&rconReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validateCommand(rconReq.Command); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	output, err := r.rcon.Execute(req.Context(), rconReq.Command)
	if err != nil {
		r.log.Warn("rcon command failed", zap.String("command", rconReq.Command), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	r.log.Info("rcon command executed", zap.String("command", rconReq.Command))
	writeJSON(w, http.StatusOK, RconResponse{Output: output})
}
