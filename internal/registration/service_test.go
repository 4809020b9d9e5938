package registration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/gateway"
	"github.com/ernie/whitelist-warden/internal/identity"
	"github.com/ernie/whitelist-warden/internal/rcon"
	"github.com/ernie/whitelist-warden/internal/registry"
)

type fakeResolver struct {
	calls atomic.Int32
	ids   map[string]domain.ResolvedIdentity
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, raw string) (domain.ResolvedIdentity, error) {
	r.calls.Add(1)
	if r.err != nil {
		return domain.ResolvedIdentity{}, r.err
	}
	id, ok := r.ids[raw]
	if !ok {
		return domain.ResolvedIdentity{}, identity.ErrNotFound
	}
	return id, nil
}

type fakeAccess struct {
	adds    atomic.Int32
	removes atomic.Int32
	result  gateway.Result
	err     error
	block   chan struct{} // when set, adds wait for it to close
	removed []string
	mu      sync.Mutex
}

func (a *fakeAccess) AddToAccessList(ctx context.Context, id domain.ResolvedIdentity) (gateway.Result, error) {
	a.adds.Add(1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return gateway.Result{}, ctx.Err()
		}
	}
	return a.result, a.err
}

func (a *fakeAccess) RemoveFromAccessList(ctx context.Context, name string) (gateway.Result, error) {
	a.removes.Add(1)
	a.mu.Lock()
	a.removed = append(a.removed, name)
	a.mu.Unlock()
	if a.err != nil {
		return gateway.Result{}, a.err
	}
	if a.result.Outcome == gateway.Rejected {
		return a.result, nil
	}
	return gateway.Result{Outcome: gateway.Removed}, nil
}

type staticStatus struct{ snap *domain.StatusSnapshot }

func (s staticStatus) Snapshot() *domain.StatusSnapshot { return s.snap }

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc      *Service
	resolver *fakeResolver
	access   *fakeAccess
	store    *registry.MemoryStore
	events   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resolver: &fakeResolver{ids: map[string]domain.ResolvedIdentity{
			"Steve123": {CanonicalID: "abc-1", CanonicalName: "Steve123"},
			"steve123": {CanonicalID: "abc-1", CanonicalName: "Steve123"},
			"SteveAlt": {CanonicalID: "def-2", CanonicalName: "SteveAlt"},
		}},
		access: &fakeAccess{result: gateway.Result{Outcome: gateway.Added}},
		store:  registry.NewMemoryStore(registry.MemoryOptions{}),
		events: &recorder{},
	}
	f.svc = NewService(f.resolver, f.store, f.access, Options{
		MutationTimeout: time.Second,
		Events:          f.events,
	})
	return f
}

func submit(requester, name string) domain.Interaction {
	return domain.Interaction{
		Type:        domain.ModalSubmit,
		RequesterID: requester,
		Fields:      map[string]string{domain.FieldUsername: name},
	}
}

func TestSubmitWhitelistsAndCommits(t *testing.T) {
	f := newFixture(t)

	resp := f.svc.Handle(context.Background(), submit("alice", "Steve123"))

	assert.Equal(t, Completed, resp.State)
	assert.Equal(t, "You're whitelisted as Steve123.", resp.Message)
	reg, err := f.store.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", reg.CanonicalID)
	assert.Equal(t, []string{domain.EventRegistrationCompleted}, f.events.types())
}

func TestSubmitUsesCanonicalName(t *testing.T) {
	f := newFixture(t)

	resp := f.svc.Handle(context.Background(), submit("alice", "  steve123 "))
	assert.Equal(t, "You're whitelisted as Steve123.", resp.Message)
}

func TestSecondSubmissionShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.svc.Handle(context.Background(), submit("alice", "Steve123"))

	resp := f.svc.Handle(context.Background(), submit("alice", "SteveAlt"))

	assert.Equal(t, Rejected, resp.State)
	assert.Equal(t, "You are already registered as Steve123.", resp.Message)
	assert.Equal(t, int32(1), f.resolver.calls.Load())
	assert.Equal(t, int32(1), f.access.adds.Load())
}

func TestNotFoundCreatesNoRecord(t *testing.T) {
	f := newFixture(t)

	resp := f.svc.Handle(context.Background(), submit("alice", "Nonexistent_User_9999"))

	assert.Equal(t, Rejected, resp.State)
	assert.Contains(t, resp.Message, "No such player")
	assert.Equal(t, int32(0), f.access.adds.Load())
	_, err := f.store.Lookup(context.Background(), "alice")
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
	assert.NoError(t, f.store.CheckAndReserve(context.Background(), "alice"), "no reservation left behind")
}

func TestResolverErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid", identity.ErrInvalidInput, msgInvalidName},
		{"unavailable", identity.ErrUnavailable, msgResolverDown},
		{"unexpected", errors.New("boom"), msgResolverDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.resolver.err = tt.err

			resp := f.svc.Handle(context.Background(), submit("alice", "Steve123"))
			assert.Equal(t, tt.want, resp.Message)
			assert.Equal(t, int32(0), f.access.adds.Load())
		})
	}
}

func TestEmptyUsername(t *testing.T) {
	f := newFixture(t)

	resp := f.svc.Handle(context.Background(), submit("alice", "   "))
	assert.Equal(t, msgMissingUsername, resp.Message)
	assert.Equal(t, int32(0), f.resolver.calls.Load())
}

func TestGatewayFailureReleasesReservation(t *testing.T) {
	tests := []struct {
		name   string
		result gateway.Result
		err    error
	}{
		{"gateway error", gateway.Result{}, &gateway.GatewayError{Op: "add", Err: rcon.ErrTimeout}},
		{"fatal gateway error", gateway.Result{}, &gateway.GatewayError{Op: "add", Fatal: true, Err: rcon.ErrAuth}},
		{"rejected", gateway.Result{Outcome: gateway.Rejected, Reason: "That player does not exist"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.access.result = tt.result
			f.access.err = tt.err

			resp := f.svc.Handle(context.Background(), submit("alice", "Steve123"))

			assert.Equal(t, msgServerError, resp.Message)
			_, err := f.store.Lookup(context.Background(), "alice")
			assert.ErrorIs(t, err, registry.ErrNotRegistered)

			// the requester may try again
			f.access.result = gateway.Result{Outcome: gateway.Added}
			f.access.err = nil
			resp = f.svc.Handle(context.Background(), submit("alice", "Steve123"))
			assert.Equal(t, Completed, resp.State)
		})
	}
}

func TestAlreadyPresentCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	f.access.result = gateway.Result{Outcome: gateway.AlreadyPresent}

	resp := f.svc.Handle(context.Background(), submit("alice", "Steve123"))
	assert.Equal(t, Completed, resp.State)
}

func TestConcurrentSubmissionsMutateOnce(t *testing.T) {
	f := newFixture(t)
	f.access.block = make(chan struct{})

	const n = 10
	var wg sync.WaitGroup
	responses := make(chan Response, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses <- f.svc.Handle(context.Background(), submit("alice", "Steve123"))
		}()
	}

	require.Eventually(t, func() bool { return f.access.adds.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.access.block)
	wg.Wait()
	close(responses)

	completed := 0
	for resp := range responses {
		if resp.State == Completed {
			completed++
			continue
		}
		assert.Contains(t, []string{msgInProgress, msgAlreadyRegistered("Steve123")}, resp.Message)
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, int32(1), f.access.adds.Load())
}

func TestMutationSurvivesCancellation(t *testing.T) {
	f := newFixture(t)
	f.access.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Response, 1)
	go func() { done <- f.svc.Handle(ctx, submit("alice", "Steve123")) }()

	require.Eventually(t, func() bool { return f.access.adds.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	close(f.access.block)

	resp := <-done
	assert.Equal(t, Completed, resp.State)
	_, err := f.store.Lookup(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestButtonPress(t *testing.T) {
	press := domain.Interaction{Type: domain.ButtonPress, RequesterID: "alice"}

	t.Run("opens form", func(t *testing.T) {
		f := newFixture(t)
		resp := f.svc.Handle(context.Background(), press)
		assert.True(t, resp.OpenForm)
	})

	t.Run("already registered", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Handle(context.Background(), submit("alice", "Steve123"))
		resp := f.svc.Handle(context.Background(), press)
		assert.False(t, resp.OpenForm)
		assert.Equal(t, "You are already registered as Steve123.", resp.Message)
	})

	t.Run("server offline", func(t *testing.T) {
		f := newFixture(t)
		f.svc.status = staticStatus{snap: &domain.StatusSnapshot{Reachable: false}}
		resp := f.svc.Handle(context.Background(), press)
		assert.False(t, resp.OpenForm)
		assert.Equal(t, msgServerOffline, resp.Message)
	})

	t.Run("no status yet", func(t *testing.T) {
		f := newFixture(t)
		f.svc.status = staticStatus{}
		resp := f.svc.Handle(context.Background(), press)
		assert.True(t, resp.OpenForm)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("by requester id", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Handle(ctx, submit("alice", "Steve123"))

		reg, err := f.svc.Revoke(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Steve123", reg.CanonicalName)
		assert.Equal(t, []string{"Steve123"}, f.access.removed)

		regs, err := f.svc.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, regs)
		assert.Contains(t, f.events.types(), domain.EventRegistrationRevoked)
	})

	t.Run("by name ignoring case", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Handle(ctx, submit("alice", "Steve123"))

		reg, err := f.svc.Revoke(ctx, "STEVE123")
		require.NoError(t, err)
		assert.Equal(t, "alice", reg.RequesterID)
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Revoke(ctx, "nobody")
		assert.ErrorIs(t, err, registry.ErrNotRegistered)
		assert.Equal(t, int32(0), f.access.removes.Load())
	})

	t.Run("server refuses", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Handle(ctx, submit("alice", "Steve123"))
		f.access.result = gateway.Result{Outcome: gateway.Rejected, Reason: "nope"}

		_, err := f.svc.Revoke(ctx, "alice")
		assert.ErrorIs(t, err, ErrRemoveRejected)
		_, err = f.store.Lookup(ctx, "alice")
		assert.NoError(t, err, "record kept while the player is still whitelisted")
	})
}
