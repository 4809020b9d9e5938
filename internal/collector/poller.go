// Package collector keeps the chat status panel in step with the game server.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/clock"
	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/gateway"
)

// ErrPanelGone is returned by a Panel when the status message no longer exists
var ErrPanelGone = errors.New("collector: status message no longer exists")

const renderTimeout = 10 * time.Second

// Prober asks the game server for its player list
type Prober interface {
	Probe(ctx context.Context) (*gateway.PlayerList, error)
}

// Panel posts and edits the status message
type Panel interface {
	PostStatus(ctx context.Context, snap domain.StatusSnapshot) (domain.PanelRef, error)
	EditStatus(ctx context.Context, ref domain.PanelRef, snap domain.StatusSnapshot) error
}

// RefStore persists the status message reference across restarts
type RefStore interface {
	PanelRef(ctx context.Context) (domain.PanelRef, bool, error)
	SavePanelRef(ctx context.Context, ref domain.PanelRef) error
	ClearPanelRef(ctx context.Context) error
}

// Publisher receives status events
type Publisher interface {
	Publish(event domain.Event)
}

// State is the poller's position in its cycle
type State int

const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "polling"
	}
	return "idle"
}

// PollerOptions tunes a Poller. Zero values fall back to defaults.
type PollerOptions struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Clock        clock.Clock
	Events       Publisher
	Logger       *zap.Logger
}

// Poller probes the server on a fixed period and renders each result into
// one status message, which it posts at most once and edits thereafter.
type Poller struct {
	prober       Prober
	panel        Panel
	refs         RefStore
	events       Publisher
	clock        clock.Clock
	interval     time.Duration
	probeTimeout time.Duration
	log          *zap.Logger

	mu       sync.RWMutex
	state    State
	snapshot *domain.StatusSnapshot
	ref      *domain.PanelRef
	posted   bool // a message was created by this process
	gone     bool // the message was deleted out from under us

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewPoller creates a poller. refs and opts.Events may be nil.
func NewPoller(prober Prober, panel Panel, refs RefStore, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Poller{
		prober:       prober,
		panel:        panel,
		refs:         refs,
		events:       opts.Events,
		clock:        opts.Clock,
		interval:     opts.Interval,
		probeTimeout: opts.ProbeTimeout,
		log:          opts.Logger.Named("poller"),
		done:         make(chan struct{}),
	}
}

// Start loads any persisted message reference and begins polling. The first
// cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.loadRef(ctx)
		p.wg.Add(1)
		go p.loop(ctx)
	})
}

// Stop ends the loop and waits for an in-flight cycle to finish
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// State reports whether a cycle is in progress
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot returns the most recent snapshot, or nil before the first cycle
func (p *Poller) Snapshot() *domain.StatusSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot == nil {
		return nil
	}
	snap := *p.snapshot
	return &snap
}

// Ref returns the status message reference, if one is known
func (p *Poller) Ref() (domain.PanelRef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ref == nil {
		return domain.PanelRef{}, false
	}
	return *p.ref, true
}

func (p *Poller) loadRef(ctx context.Context) {
	if p.refs == nil {
		return
	}
	ref, ok, err := p.refs.PanelRef(ctx)
	if err != nil {
		p.log.Warn("could not load status message reference", zap.Error(err))
		return
	}
	if ok {
		p.mu.Lock()
		p.ref = &ref
		p.mu.Unlock()
		p.log.Info("reusing status message",
			zap.String("channel", ref.ChannelID), zap.String("message", ref.MessageID))
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.cycle(ctx)

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle runs one probe and render. It never panics or returns an error;
// every failure becomes an unreachable snapshot or a log line.
func (p *Poller) cycle(ctx context.Context) {
	p.setState(Polling)
	defer p.setState(Idle)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("status cycle panicked", zap.Any("panic", r))
		}
	}()

	snap := p.probe(ctx)

	p.mu.Lock()
	p.snapshot = &snap
	p.mu.Unlock()

	if p.events != nil {
		p.events.Publish(domain.Event{
			Type:      domain.EventServerUpdate,
			Timestamp: snap.Timestamp,
			Data:      snap,
		})
	}

	p.render(ctx, snap)
}

func (p *Poller) probe(ctx context.Context) (snap domain.StatusSnapshot) {
	snap.Timestamp = p.clock.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("probe panicked", zap.Any("panic", r))
			snap = domain.StatusSnapshot{Timestamp: snap.Timestamp, Error: fmt.Sprint(r)}
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	list, err := p.prober.Probe(pctx)
	if err != nil {
		p.log.Warn("server unreachable", zap.Error(err))
		snap.Error = err.Error()
		return snap
	}

	snap.Reachable = true
	if list != nil && list.Counted() {
		n := list.Online
		snap.Players = &n
		snap.MaxPlayers = list.Max
		snap.Names = list.Names
	}
	return snap
}

func (p *Poller) render(ctx context.Context, snap domain.StatusSnapshot) {
	rctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	p.mu.RLock()
	ref, posted, gone := p.ref, p.posted, p.gone
	p.mu.RUnlock()

	if gone {
		return
	}

	if ref == nil {
		if posted {
			return
		}
		newRef, err := p.panel.PostStatus(rctx, snap)
		if err != nil {
			p.log.Warn("posting status message failed", zap.Error(err))
			return
		}

		p.mu.Lock()
		p.ref = &newRef
		p.posted = true
		p.mu.Unlock()
		p.log.Info("status message created",
			zap.String("channel", newRef.ChannelID), zap.String("message", newRef.MessageID))

		if p.refs != nil {
			if err := p.refs.SavePanelRef(rctx, newRef); err != nil {
				p.log.Error("persisting status message reference failed", zap.Error(err))
			}
		}
		return
	}

	err := p.panel.EditStatus(rctx, *ref, snap)
	switch {
	case err == nil:
	case errors.Is(err, ErrPanelGone):
		// Never repost within a process; the next start creates a fresh one
		p.log.Error("status message was deleted, panel updates stopped until restart",
			zap.String("message", ref.MessageID))
		p.mu.Lock()
		p.gone = true
		p.mu.Unlock()
		if p.refs != nil {
			if err := p.refs.ClearPanelRef(rctx); err != nil {
				p.log.Error("clearing status message reference failed", zap.Error(err))
			}
		}
	default:
		p.log.Warn("editing status message failed, will retry next cycle", zap.Error(err))
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
