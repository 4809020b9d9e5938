package domain

import "time"

// StatusSnapshot is the result of one poll of the game server
type StatusSnapshot struct {
	Reachable  bool      `json:"reachable"`
	Players    *int      `json:"players,omitempty"` // nil when the server could not be asked
	MaxPlayers int       `json:"max_players,omitempty"`
	Names      []string  `json:"names,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PlayerCount returns the player count, or -1 if unknown
func (s StatusSnapshot) PlayerCount() int {
	if s.Players == nil {
		return -1
	}
	return *s.Players
}

// PanelRef locates the chat message that shows server status
type PanelRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}
