// Package gateway exposes whitelist operations on top of a single shared
// RCON connection.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/rcon"
)

// Outcome classifies how the server answered an access-list command
type Outcome int

// Unknown is the zero value; no exchange reports it.
const (
	Unknown Outcome = iota
	Added
	AlreadyPresent
	Rejected
	Removed
	NotPresent
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	case Rejected:
		return "rejected"
	case Removed:
		return "removed"
	case NotPresent:
		return "not_present"
	default:
		return "unknown"
	}
}

// Result is the outcome of an access-list mutation
type Result struct {
	Outcome Outcome
	Reason  string // server text for Rejected
}

// Succeeded reports whether the player ended up in the requested state
func (r Result) Succeeded() bool {
	switch r.Outcome {
	case Added, AlreadyPresent, Removed, NotPresent:
		return true
	default:
		return false
	}
}

// GatewayError is returned once the protocol layer has failed past retry.
// Fatal errors will not clear up without reconfiguration.
type GatewayError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *GatewayError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("gateway %s (fatal): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Conn is the protocol connection the gateway drives
type Conn interface {
	Authenticate(ctx context.Context, password string) error
	Execute(ctx context.Context, command string) (string, error)
	Alive() bool
	LastActivity() time.Time
	Close() error
}

// DialFunc opens a fresh, unauthenticated connection
type DialFunc func(ctx context.Context) (Conn, error)

// Config holds connection settings
type Config struct {
	Addr        string
	Password    string
	DialTimeout time.Duration
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// Gateway owns the one connection to the server's admin port.
// Every exchange holds mu, so probes and mutations queue behind each other.
type Gateway struct {
	dial        DialFunc
	password    string
	idleTimeout time.Duration
	log         *zap.Logger

	mu   sync.Mutex
	conn Conn
}

var validName = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// New creates a gateway that dials cfg.Addr over TCP
func New(cfg Config, log *zap.Logger) *Gateway {
	opts := rcon.Options{DialTimeout: cfg.DialTimeout, Timeout: cfg.Timeout}
	dial := func(ctx context.Context) (Conn, error) {
		c, err := rcon.Dial(ctx, cfg.Addr, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return NewWithDialer(dial, cfg, log)
}

// NewWithDialer creates a gateway with a custom dialer (for testing)
func NewWithDialer(dial DialFunc, cfg Config, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		dial:        dial,
		password:    cfg.Password,
		idleTimeout: cfg.IdleTimeout,
		log:         log.Named("gateway"),
	}
}

// AddToAccessList whitelists the identity's canonical name
func (g *Gateway) AddToAccessList(ctx context.Context, id domain.ResolvedIdentity) (Result, error) {
	if !validName.MatchString(id.CanonicalName) {
		return Result{Outcome: Rejected, Reason: "invalid player name"}, nil
	}

	out, err := g.run(ctx, "add", "whitelist add "+id.CanonicalName, true)
	if err != nil {
		return Result{}, err
	}
	return classifyAdd(out), nil
}

// RemoveFromAccessList removes a player by name
func (g *Gateway) RemoveFromAccessList(ctx context.Context, name string) (Result, error) {
	if !validName.MatchString(name) {
		return Result{Outcome: Rejected, Reason: "invalid player name"}, nil
	}

	out, err := g.run(ctx, "remove", "whitelist remove "+name, true)
	if err != nil {
		return Result{}, err
	}
	return classifyRemove(out), nil
}

// Execute runs an arbitrary operator command. It is not retried since the
// command may not be idempotent.
func (g *Gateway) Execute(ctx context.Context, command string) (string, error) {
	return g.run(ctx, "execute", command, false)
}

// Probe asks the server for its player list. It does not retry, and it only
// drops the cached connection if the connection itself is broken.
func (g *Gateway) Probe(ctx context.Context) (*PlayerList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out, err := g.exchange(ctx, "list")
	if err != nil {
		if g.conn != nil && !g.conn.Alive() {
			g.invalidate()
		}
		return nil, &GatewayError{Op: "probe", Fatal: errors.Is(err, rcon.ErrAuth), Err: err}
	}

	list := ParsePlayerList(out)
	return &list, nil
}

// Close drops the cached connection
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidate()
	return nil
}

func (g *Gateway) run(ctx context.Context, op, command string, retry bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	attempts := 1
	if retry {
		attempts = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := g.exchange(ctx, command)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, rcon.ErrAuth) {
			g.invalidate()
			g.log.Error("rcon authentication rejected", zap.String("op", op))
			return "", &GatewayError{Op: op, Fatal: true, Err: err}
		}
		if !isTransient(err) {
			return "", &GatewayError{Op: op, Err: err}
		}

		g.invalidate()
		if attempt < attempts && ctx.Err() == nil {
			g.log.Warn("rcon exchange failed, reconnecting",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	return "", &GatewayError{Op: op, Err: lastErr}
}

// exchange runs one command on the cached connection, connecting first if
// needed. Callers hold mu.
func (g *Gateway) exchange(ctx context.Context, command string) (string, error) {
	conn, err := g.connection(ctx)
	if err != nil {
		return "", err
	}
	return conn.Execute(ctx, command)
}

func (g *Gateway) connection(ctx context.Context) (Conn, error) {
	if g.conn != nil {
		if !g.conn.Alive() {
			g.invalidate()
		} else if g.idleTimeout > 0 && time.Since(g.conn.LastActivity()) > g.idleTimeout {
			g.log.Debug("closing idle rcon connection")
			g.invalidate()
		}
	}
	if g.conn != nil {
		return g.conn, nil
	}

	conn, err := g.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Authenticate(ctx, g.password); err != nil {
		conn.Close()
		return nil, err
	}

	g.log.Debug("rcon connection established")
	g.conn = conn
	return conn, nil
}

func (g *Gateway) invalidate() {
	if g.conn == nil {
		return
	}
	g.conn.Close()
	g.conn = nil
}

func isTransient(err error) bool {
	return errors.Is(err, rcon.ErrConnect) ||
		errors.Is(err, rcon.ErrProtocol) ||
		errors.Is(err, rcon.ErrTimeout) ||
		errors.Is(err, rcon.ErrNotAuthenticated)
}

func classifyAdd(out string) Result {
	text := strings.ToLower(stripFormatting(out))
	switch {
	case strings.Contains(text, "already"):
		return Result{Outcome: AlreadyPresent}
	case strings.Contains(text, "added"):
		return Result{Outcome: Added}
	default:
		return Result{Outcome: Rejected, Reason: strings.TrimSpace(stripFormatting(out))}
	}
}

func classifyRemove(out string) Result {
	text := strings.ToLower(stripFormatting(out))
	switch {
	case strings.Contains(text, "not whitelisted"), strings.Contains(text, "not on"):
		return Result{Outcome: NotPresent}
	case strings.Contains(text, "removed"):
		return Result{Outcome: Removed}
	default:
		return Result{Outcome: Rejected, Reason: strings.TrimSpace(stripFormatting(out))}
	}
}
