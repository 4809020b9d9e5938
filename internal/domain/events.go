package domain

import "time"

// Event types for websocket and bus notifications
const (
	EventServerUpdate          = "server_update"
	EventRegistrationCompleted = "registration_completed"
	EventRegistrationRejected  = "registration_rejected"
	EventRegistrationRevoked   = "registration_revoked"
)

// Event represents a real-time event for fan-out to operators
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// RegistrationEvent describes a terminal registration outcome
type RegistrationEvent struct {
	RequestID     string `json:"request_id,omitempty"`
	RequesterID   string `json:"requester_id"`
	SubmittedName string `json:"submitted_name,omitempty"`
	CanonicalName string `json:"canonical_name,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
