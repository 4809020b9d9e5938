package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ernie/whitelist-warden/internal/rcon"
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseOffset parses and validates an offset parameter
func parseOffset(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// validateCommand checks a console command before it is sent to the server
func validateCommand(command string) error {
	switch {
	case strings.TrimSpace(command) == "":
		return errors.New("command is required")
	case len(command) > rcon.MaxCommandSize:
		return errors.New("command too long")
	case strings.ContainsAny(command, "\r\n\x00"):
		return errors.New("command must be a single line")
	}
	return nil
}
