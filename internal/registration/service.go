// Package registration runs the whitelist application workflow: resolve the
// submitted name, claim the requester, add the player on the server, then
// record the registration.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/clock"
	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/gateway"
	"github.com/ernie/whitelist-warden/internal/identity"
	"github.com/ernie/whitelist-warden/internal/registry"
)

// ErrRemoveRejected is returned by Revoke when the server refused the removal
var ErrRemoveRejected = errors.New("registration: server rejected removal")

// Resolver maps a submitted name to a game account
type Resolver interface {
	Resolve(ctx context.Context, rawName string) (domain.ResolvedIdentity, error)
}

// AccessList mutates the server's whitelist
type AccessList interface {
	AddToAccessList(ctx context.Context, id domain.ResolvedIdentity) (gateway.Result, error)
	RemoveFromAccessList(ctx context.Context, name string) (gateway.Result, error)
}

// StatusSource reports the latest server status
type StatusSource interface {
	Snapshot() *domain.StatusSnapshot
}

// Publisher receives registration events
type Publisher interface {
	Publish(event domain.Event)
}

// State is a step of one registration request
type State int

const (
	Received State = iota
	Resolving
	Resolved
	DuplicateCheck
	Mutating
	Completed
	Rejected
)

func (s State) String() string {
	return [...]string{"received", "resolving", "resolved", "duplicate_check", "mutating", "completed", "rejected"}[s]
}

// Response is what the chat adapter should show the requester
type Response struct {
	Message  string
	OpenForm bool  // show the application form instead of a message
	State    State // Completed or Rejected for submissions
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	MutationTimeout time.Duration
	Status          StatusSource
	Events          Publisher
	Clock           clock.Clock
	Logger          *zap.Logger
}

// Service is the single entry point for chat interactions
type Service struct {
	resolver        Resolver
	store           registry.Store
	access          AccessList
	status          StatusSource
	events          Publisher
	clock           clock.Clock
	mutationTimeout time.Duration
	log             *zap.Logger
}

// NewService wires the workflow's collaborators
func NewService(resolver Resolver, store registry.Store, access AccessList, opts Options) *Service {
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = 15 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		resolver:        resolver,
		store:           store,
		access:          access,
		status:          opts.Status,
		events:          opts.Events,
		clock:           opts.Clock,
		mutationTimeout: opts.MutationTimeout,
		log:             opts.Logger.Named("registration"),
	}
}

// Handle answers a button press or a form submission
func (s *Service) Handle(ctx context.Context, in domain.Interaction) Response {
	switch in.Type {
	case domain.ButtonPress:
		return s.handleButton(ctx, in)
	case domain.ModalSubmit:
		return s.handleSubmit(ctx, in)
	default:
		return Response{Message: msgUnknownAction, State: Rejected}
	}
}

func (s *Service) handleButton(ctx context.Context, in domain.Interaction) Response {
	reg, err := s.store.Lookup(ctx, in.RequesterID)
	switch {
	case err == nil:
		return Response{Message: msgAlreadyRegistered(reg.CanonicalName), State: Rejected}
	case !errors.Is(err, registry.ErrNotRegistered):
		s.log.Error("registry lookup failed", zap.String("requester", in.RequesterID), zap.Error(err))
		return Response{Message: msgStoreDown, State: Rejected}
	}

	if s.status != nil {
		if snap := s.status.Snapshot(); snap != nil && !snap.Reachable {
			return Response{Message: msgServerOffline, State: Rejected}
		}
	}
	return Response{OpenForm: true}
}

// request tracks one submission through the state machine
type request struct {
	domain.RegistrationRequest
	state State
	log   *zap.Logger
}

func (r *request) enter(s State) {
	r.state = s
	r.log.Debug("registration state", zap.Stringer("state", s))
}

func (s *Service) handleSubmit(ctx context.Context, in domain.Interaction) Response {
	req := &request{
		RegistrationRequest: domain.RegistrationRequest{
			ID:            uuid.NewString(),
			RequesterID:   in.RequesterID,
			SubmittedName: strings.TrimSpace(in.Fields[domain.FieldUsername]),
			CreatedAt:     s.clock.Now().UTC(),
		},
	}
	req.log = s.log.With(
		zap.String("request_id", req.ID),
		zap.String("requester", req.RequesterID),
		zap.String("name", req.SubmittedName),
	)
	req.enter(Received)

	if req.SubmittedName == "" {
		return s.reject(req, msgMissingUsername, "empty username")
	}

	// A registered requester is turned away before any external call
	if reg, err := s.store.Lookup(ctx, req.RequesterID); err == nil {
		return s.reject(req, msgAlreadyRegistered(reg.CanonicalName), "already registered")
	} else if !errors.Is(err, registry.ErrNotRegistered) {
		req.log.Error("registry lookup failed", zap.Error(err))
		return s.reject(req, msgStoreDown, "registry unavailable")
	}

	req.enter(Resolving)
	id, err := s.resolver.Resolve(ctx, req.SubmittedName)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotFound):
		return s.reject(req, msgNoSuchPlayer(req.SubmittedName), "no such player")
	case errors.Is(err, identity.ErrInvalidInput):
		return s.reject(req, msgInvalidName, "invalid name")
	default:
		req.log.Warn("identity lookup failed", zap.Error(err))
		return s.reject(req, msgResolverDown, "resolver unavailable")
	}
	req.enter(Resolved)

	req.enter(DuplicateCheck)
	switch err := s.store.CheckAndReserve(ctx, req.RequesterID); {
	case err == nil:
	case errors.Is(err, registry.ErrAlreadyRegistered):
		name := ""
		if reg, lerr := s.store.Lookup(ctx, req.RequesterID); lerr == nil {
			name = reg.CanonicalName
		}
		return s.reject(req, msgAlreadyRegistered(name), "already registered")
	case errors.Is(err, registry.ErrReservationHeld):
		return s.reject(req, msgInProgress, "reservation held")
	default:
		req.log.Error("reservation failed", zap.Error(err))
		return s.reject(req, msgStoreDown, "registry unavailable")
	}

	return s.mutate(ctx, req, id)
}

// mutate adds the player and commits the record. It runs detached from ctx
// cancellation so shutdown cannot strand a half-finished mutation.
func (s *Service) mutate(ctx context.Context, req *request, id domain.ResolvedIdentity) Response {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mutationTimeout)
	defer cancel()

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := s.store.Release(mctx, req.RequesterID); err != nil {
			req.log.Error("releasing reservation failed", zap.Error(err))
		}
	}()

	req.enter(Mutating)
	res, err := s.access.AddToAccessList(mctx, id)
	if err != nil {
		var gwErr *gateway.GatewayError
		if errors.As(err, &gwErr) && gwErr.Fatal {
			req.log.Error("whitelist add failed, check rcon credentials", zap.Error(err))
		} else {
			req.log.Warn("whitelist add failed", zap.Error(err))
		}
		return s.reject(req, msgServerError, err.Error())
	}
	if !res.Succeeded() {
		req.log.Warn("server rejected whitelist add",
			zap.String("canonical_name", id.CanonicalName), zap.String("reason", res.Reason))
		return s.reject(req, msgServerError, res.Reason)
	}

	reg := domain.Registration{
		RequesterID:   req.RequesterID,
		CanonicalID:   id.CanonicalID,
		CanonicalName: id.CanonicalName,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.store.Commit(mctx, reg); err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			committed = true
			return s.reject(req, msgAlreadyRegistered(""), "committed concurrently")
		}
		req.log.Error("player whitelisted but registration not recorded",
			zap.String("canonical_name", id.CanonicalName), zap.Error(err))
		return s.reject(req, msgWhitelistedNotSaved(id.CanonicalName), "commit failed")
	}
	committed = true

	req.enter(Completed)
	req.log.Info("player whitelisted",
		zap.String("canonical_name", id.CanonicalName),
		zap.String("canonical_id", id.CanonicalID),
		zap.Stringer("outcome", res.Outcome))
	s.publish(domain.EventRegistrationCompleted, domain.RegistrationEvent{
		RequestID:     req.ID,
		RequesterID:   req.RequesterID,
		SubmittedName: req.SubmittedName,
		CanonicalName: id.CanonicalName,
	})
	return Response{Message: msgWhitelisted(id.CanonicalName), State: Completed}
}

func (s *Service) reject(req *request, message, reason string) Response {
	from := req.state
	req.enter(Rejected)
	req.log.Info("registration rejected", zap.Stringer("at", from), zap.String("reason", reason))
	s.publish(domain.EventRegistrationRejected, domain.RegistrationEvent{
		RequestID:     req.ID,
		RequesterID:   req.RequesterID,
		SubmittedName: req.SubmittedName,
		Reason:        reason,
	})
	return Response{Message: message, State: Rejected}
}

// Revoke removes a registration by requester id or canonical name. The
// player is removed from the server first; the record is deleted only once
// the server no longer lists them.
func (s *Service) Revoke(ctx context.Context, target string) (*domain.Registration, error) {
	reg, err := s.find(ctx, strings.TrimSpace(target))
	if err != nil {
		return nil, err
	}

	res, err := s.access.RemoveFromAccessList(ctx, reg.CanonicalName)
	if err != nil {
		return nil, fmt.Errorf("removing %s from whitelist: %w", reg.CanonicalName, err)
	}
	if !res.Succeeded() {
		return nil, fmt.Errorf("%w: %s", ErrRemoveRejected, res.Reason)
	}

	if err := s.store.Revoke(ctx, reg.RequesterID); err != nil {
		return nil, fmt.Errorf("deleting registration: %w", err)
	}

	s.log.Info("registration revoked",
		zap.String("requester", reg.RequesterID),
		zap.String("canonical_name", reg.CanonicalName),
		zap.Stringer("outcome", res.Outcome))
	s.publish(domain.EventRegistrationRevoked, domain.RegistrationEvent{
		RequesterID:   reg.RequesterID,
		CanonicalName: reg.CanonicalName,
	})
	return reg, nil
}

// List returns all committed registrations
func (s *Service) List(ctx context.Context) ([]domain.Registration, error) {
	return s.store.List(ctx)
}

func (s *Service) find(ctx context.Context, target string) (*domain.Registration, error) {
	if target == "" {
		return nil, registry.ErrNotRegistered
	}

	reg, err := s.store.Lookup(ctx, target)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, registry.ErrNotRegistered) {
		return nil, err
	}

	regs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range regs {
		if strings.EqualFold(regs[i].CanonicalName, target) {
			return &regs[i], nil
		}
	}
	return nil, registry.ErrNotRegistered
}

func (s *Service) publish(eventType string, data domain.RegistrationEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.Event{
		Type:      eventType,
		Timestamp: s.clock.Now().UTC(),
		Data:      data,
	})
}
