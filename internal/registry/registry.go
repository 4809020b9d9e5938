// Package registry enforces one whitelist registration per requester.
//
// A registration moves through two states: a short-lived reservation taken
// before the access list is touched, and a committed record written only
// after the server accepted the player. CheckAndReserve is the single atomic
// step that keeps two concurrent submissions from the same requester apart.
package registry

import (
	"context"
	"errors"

	"github.com/ernie/whitelist-warden/internal/domain"
)

var (
	ErrAlreadyRegistered = errors.New("registry: requester already registered")
	ErrReservationHeld   = errors.New("registry: registration already in progress")
	ErrNotRegistered     = errors.New("registry: requester not registered")
)

// Store is the dedup store contract shared by the memory and Redis backends
type Store interface {
	// Lookup returns the committed registration, or ErrNotRegistered
	Lookup(ctx context.Context, requesterID string) (*domain.Registration, error)

	// CheckAndReserve claims requesterID. It returns nil when the claim was
	// taken, ErrAlreadyRegistered when a record is committed and
	// ErrReservationHeld when another request holds the claim.
	CheckAndReserve(ctx context.Context, requesterID string) error

	// Commit turns the reservation into a permanent record. A committed
	// record is never overwritten.
	Commit(ctx context.Context, reg domain.Registration) error

	// Release drops a reservation that was not committed. Committed records
	// are left alone.
	Release(ctx context.Context, requesterID string) error

	List(ctx context.Context) ([]domain.Registration, error)

	// Revoke deletes a committed record, or returns ErrNotRegistered
	Revoke(ctx context.Context, requesterID string) error
}

// Journal persists committed registrations outside the process
type Journal interface {
	SaveRegistration(ctx context.Context, reg domain.Registration) error
	DeleteRegistration(ctx context.Context, requesterID string) error
	ListRegistrations(ctx context.Context) ([]domain.Registration, error)
}
