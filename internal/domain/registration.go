package domain

import "time"

// RegistrationRequest is a single whitelist application submitted from chat
type RegistrationRequest struct {
	ID            string    `json:"id"`
	RequesterID   string    `json:"requester_id"`
	SubmittedName string    `json:"submitted_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// ResolvedIdentity is a game account as reported by the identity API.
// CanonicalName is the API's casing, not the user's.
type ResolvedIdentity struct {
	CanonicalID   string `json:"canonical_id"`
	CanonicalName string `json:"canonical_name"`
}

// Registration records that a requester has been whitelisted
type Registration struct {
	RequesterID   string    `json:"requester_id"`
	CanonicalID   string    `json:"canonical_id"`
	CanonicalName string    `json:"canonical_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// Identity returns the resolved identity the registration was made for
func (r Registration) Identity() ResolvedIdentity {
	return ResolvedIdentity{CanonicalID: r.CanonicalID, CanonicalName: r.CanonicalName}
}

// InteractionType distinguishes the chat triggers that reach the orchestrator
type InteractionType int

const (
	ButtonPress InteractionType = iota
	ModalSubmit
)

func (t InteractionType) String() string {
	switch t {
	case ButtonPress:
		return "button_press"
	case ModalSubmit:
		return "modal_submit"
	default:
		return "unknown"
	}
}

// FieldUsername is the form field carrying the submitted game name
const FieldUsername = "username"

// Interaction is a chat event, stripped of platform details
type Interaction struct {
	Type        InteractionType
	RequesterID string
	Fields      map[string]string
}
