// Package identity maps a typed player name to the account the Mojang API
// knows it as.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ernie/whitelist-warden/internal/domain"
)

var (
	ErrInvalidInput = errors.New("identity: invalid player name")
	ErrNotFound     = errors.New("identity: no such player")
	ErrUnavailable  = errors.New("identity: lookup service unavailable")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

// Config holds resolver settings
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
}

// Resolver looks names up against the profile API
type Resolver struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a resolver. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, log *zap.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		log:     log.Named("identity"),
	}
}

// ValidName reports whether name could be a game account name
func ValidName(name string) bool {
	return namePattern.MatchString(strings.TrimSpace(name))
}

type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolve returns the canonical identity for rawName. The lookup itself is
// case-insensitive; the returned name carries the API's casing.
func (r *Resolver) Resolve(ctx context.Context, rawName string) (domain.ResolvedIdentity, error) {
	name := strings.TrimSpace(rawName)
	if !namePattern.MatchString(name) {
		return domain.ResolvedIdentity{}, ErrInvalidInput
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return domain.ResolvedIdentity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	endpoint := r.baseURL + "/users/profiles/minecraft/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ResolvedIdentity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("profile lookup failed", zap.String("name", name), zap.Error(err))
		return domain.ResolvedIdentity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNoContent:
		return domain.ResolvedIdentity{}, ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return domain.ResolvedIdentity{}, ErrInvalidInput
	default:
		r.log.Warn("profile lookup returned unexpected status",
			zap.String("name", name), zap.Int("status", resp.StatusCode))
		return domain.ResolvedIdentity{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var p profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&p); err != nil {
		return domain.ResolvedIdentity{}, fmt.Errorf("%w: decoding profile: %w", ErrUnavailable, err)
	}
	if p.ID == "" || p.Name == "" {
		return domain.ResolvedIdentity{}, ErrNotFound
	}

	id, err := uuid.Parse(p.ID)
	if err != nil {
		return domain.ResolvedIdentity{}, fmt.Errorf("%w: malformed profile id %q", ErrUnavailable, p.ID)
	}

	return domain.ResolvedIdentity{CanonicalID: id.String(), CanonicalName: p.Name}, nil
}
