package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/clock"
	"github.com/ernie/whitelist-warden/internal/domain"
)

const DefaultReservationTTL = 2 * time.Minute

type entryState int

const (
	reserved entryState = iota
	committed
)

type entry struct {
	state      entryState
	reservedAt time.Time
	reg        domain.Registration
}

// MemoryOptions configures a MemoryStore. Zero values fall back to defaults.
type MemoryOptions struct {
	ReservationTTL time.Duration
	Journal        Journal
	Clock          clock.Clock
	Logger         *zap.Logger
}

// MemoryStore keeps registrations in a mutex-guarded map. Reservations
// older than the TTL are treated as abandoned. Commits and revocations are
// mirrored to the optional journal.
type MemoryStore struct {
	ttl     time.Duration
	journal Journal
	clock   clock.Clock
	log     *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = DefaultReservationTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MemoryStore{
		ttl:     opts.ReservationTTL,
		journal: opts.Journal,
		clock:   opts.Clock,
		log:     opts.Logger.Named("registry"),
		entries: make(map[string]*entry),
	}
}

// Load replays the journal into memory. It returns the number of records loaded.
func (s *MemoryStore) Load(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	regs, err := s.journal.ListRegistrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range regs {
		s.entries[reg.RequesterID] = &entry{state: committed, reg: reg}
	}
	return len(regs), nil
}

func (s *MemoryStore) Lookup(ctx context.Context, requesterID string) (*domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[requesterID]
	if !ok || e.state != committed {
		return nil, ErrNotRegistered
	}
	reg := e.reg
	return &reg, nil
}

func (s *MemoryStore) CheckAndReserve(ctx context.Context, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[requesterID]; ok {
		switch {
		case e.state == committed:
			return ErrAlreadyRegistered
		case now.Sub(e.reservedAt) < s.ttl:
			return ErrReservationHeld
		default:
			s.log.Warn("reclaiming expired reservation", zap.String("requester", requesterID))
		}
	}

	s.entries[requesterID] = &entry{state: reserved, reservedAt: now}
	return nil
}

// Commit records reg. The in-memory record is authoritative: a journal
// failure is logged, not returned, because the access list already changed.
func (s *MemoryStore) Commit(ctx context.Context, reg domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[reg.RequesterID]; ok && e.state == committed {
		return ErrAlreadyRegistered
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = s.clock.Now()
	}
	s.entries[reg.RequesterID] = &entry{state: committed, reg: reg}

	if s.journal != nil {
		if err := s.journal.SaveRegistration(ctx, reg); err != nil {
			s.log.Error("journal write failed",
				zap.String("requester", reg.RequesterID), zap.Error(err))
		}
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[requesterID]; ok && e.state == reserved {
		delete(s.entries, requesterID)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.Registration, error) {
	s.mu.Lock()
	regs := make([]domain.Registration, 0, len(s.entries))
	for _, e := range s.entries {
		if e.state == committed {
			regs = append(regs, e.reg)
		}
	}
	s.mu.Unlock()

	sort.Slice(regs, func(i, j int) bool {
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
	return regs, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[requesterID]
	if !ok || e.state != committed {
		return ErrNotRegistered
	}
	if s.journal != nil {
		if err := s.journal.DeleteRegistration(ctx, requesterID); err != nil {
			return fmt.Errorf("deleting journal record: %w", err)
		}
	}
	delete(s.entries, requesterID)
	return nil
}
