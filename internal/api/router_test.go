package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelist-warden/internal/auth"
	"github.com/ernie/whitelist-warden/internal/collector"
	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/registration"
	"github.com/ernie/whitelist-warden/internal/registry"
)

type fakeStatus struct{ snap *domain.StatusSnapshot }

func (f *fakeStatus) Snapshot() *domain.StatusSnapshot { return f.snap }
func (f *fakeStatus) State() collector.State { return collector.Idle }

type fakeRegistrations struct {
	mu      sync.Mutex
	regs    []domain.Registration
	revoked []string
	err     error
}

func (f *fakeRegistrations) List(ctx context.Context) ([]domain.Registration, error) {
	return f.regs, f.err
}

func (f *fakeRegistrations) Revoke(ctx context.Context, target string) (*domain.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.regs {
		if r.RequesterID == target || strings.EqualFold(r.CanonicalName, target) {
			f.revoked = append(f.revoked, target)
			return &r, nil
		}
	}
	return nil, registry.ErrNotRegistered
}

type fakeExecutor struct {
	commands []string
	output   string
	err      error
}

func (f *fakeExecutor) Execute(ctx context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	return f.output, f.err
}

type fixture struct {
	router *Router
	status *fakeStatus
	regs   *fakeRegistrations
	rcon   *fakeExecutor
	auth   *auth.Service
	hub    *WebSocketHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	f := &fixture{
		status: &fakeStatus{},
		regs:   &fakeRegistrations{},
		rcon:   &fakeExecutor{},
		auth:   auth.NewService("test-secret", time.Hour, hash),
		hub:    NewWebSocketHub(nil),
	}
	f.router = NewRouter(f.status, f.regs, f.rcon, f.auth, f.hub, nil)
	return f
}

func (f *fixture) adminToken(t *testing.T) string {
	t.Helper()
	token, err := f.auth.GenerateToken(auth.AdminUsername, true)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "OPTIONS", "/api/registrations", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatusResponse](t, rec)
	assert.False(t, resp.Polled)
	assert.Equal(t, "idle", resp.Poller)

	players := 3
	f.status.snap = &domain.StatusSnapshot{Reachable: true, Players: &players, MaxPlayers: 20, Timestamp: time.Now()}
	rec = f.do(t, "GET", "/api/status", "", "")
	resp = decode[StatusResponse](t, rec)
	assert.True(t, resp.Polled)
	require.NotNil(t, resp.Snapshot)
	assert.Equal(t, 3, resp.Snapshot.PlayerCount())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/auth/login", `{"password":"hunter2"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LoginResponse](t, rec)
	assert.True(t, resp.IsAdmin)

	claims, err := f.auth.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.AdminUsername, claims.Username)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"password":"nope"}`, http.StatusUnauthorized},
		{"empty password", `{"password":""}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, "POST", "/api/auth/login", tt.body, "").Code)
		})
	}
}

func TestLoginDisabled(t *testing.T) {
	f := newFixture(t)
	f.router.auth = auth.NewService("test-secret", time.Hour, "")

	rec := f.do(t, "POST", "/api/auth/login", `{"password":"hunter2"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthCheck(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/auth/check", "", "")
	assert.Equal(t, false, decode[map[string]interface{}](t, rec)["authenticated"])

	rec = f.do(t, "GET", "/api/auth/check", "", f.adminToken(t))
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, auth.AdminUsername, body["username"])
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)
	userToken, err := f.auth.GenerateToken("viewer", false)
	require.NoError(t, err)

	routes := []struct{ method, path, body string }{
		{"GET", "/api/registrations", ""},
		{"DELETE", "/api/registrations/Steve", ""},
		{"POST", "/api/rcon", `{"command":"list"}`},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, f.do(t, rt.method, rt.path, rt.body, "").Code)
			assert.Equal(t, http.StatusUnauthorized, f.do(t, rt.method, rt.path, rt.body, "garbage").Code)
			assert.Equal(t, http.StatusForbidden, f.do(t, rt.method, rt.path, rt.body, userToken).Code)
		})
	}
	assert.Empty(t, f.rcon.commands)
	assert.Empty(t, f.regs.revoked)
}

func TestAdminRoutesRejectTokensWhileLoginDisabled(t *testing.T) {
	f := newFixture(t)
	f.router.auth = auth.NewService("", time.Hour, "")

	// HS256 over an empty key is trivial to produce without the server
	forged, err := auth.NewService("", time.Hour, "").GenerateToken(auth.AdminUsername, true)
	require.NoError(t, err)

	rec := f.do(t, "POST", "/api/rcon", `{"command":"op Steve"}`, forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, "DELETE", "/api/registrations/Steve", "", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "GET", "/api/auth/check", "", forged)
	assert.Equal(t, false, decode[map[string]interface{}](t, rec)["authenticated"])

	assert.Empty(t, f.rcon.commands)
	assert.Empty(t, f.regs.revoked)
}

func TestListRegistrationsPaging(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.regs.regs = append(f.regs.regs, domain.Registration{
			RequesterID:   fmt.Sprintf("u%d", i),
			CanonicalName: fmt.Sprintf("Player%d", i),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	token := f.adminToken(t)

	resp := decode[RegistrationsResponse](t, f.do(t, "GET", "/api/registrations", "", token))
	assert.Equal(t, 5, resp.Total)
	assert.Len(t, resp.Registrations, 5)

	resp = decode[RegistrationsResponse](t, f.do(t, "GET", "/api/registrations?limit=2&offset=3", "", token))
	assert.Equal(t, 5, resp.Total)
	require.Len(t, resp.Registrations, 2)
	assert.Equal(t, "u3", resp.Registrations[0].RequesterID)

	resp = decode[RegistrationsResponse](t, f.do(t, "GET", "/api/registrations?offset=10", "", token))
	assert.Empty(t, resp.Registrations)
	assert.NotNil(t, resp.Registrations)
}

func TestListRegistrationsStoreError(t *testing.T) {
	f := newFixture(t)
	f.regs.err = errors.New("redis down")
	rec := f.do(t, "GET", "/api/registrations", "", f.adminToken(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRevokeRegistration(t *testing.T) {
	f := newFixture(t)
	f.regs.regs = []domain.Registration{{RequesterID: "u1", CanonicalName: "Steve"}}
	token := f.adminToken(t)

	rec := f.do(t, "DELETE", "/api/registrations/steve", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", decode[domain.Registration](t, rec).RequesterID)

	rec = f.do(t, "DELETE", "/api/registrations/nobody", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeRegistrationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"server refused", fmt.Errorf("%w: no such player", registration.ErrRemoveRejected), http.StatusConflict},
		{"gateway down", errors.New("gateway remove: connect failed"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.regs.err = tt.err
			rec := f.do(t, "DELETE", "/api/registrations/u1", "", f.adminToken(t))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRconCommand(t *testing.T) {
	f := newFixture(t)
	f.rcon.output = "There are 0 of a max of 20 players online: "
	token := f.adminToken(t)

	rec := f.do(t, "POST", "/api/rcon", `{"command":"list"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.rcon.output, decode[RconResponse](t, rec).Output)
	assert.Equal(t, []string{"list"}, f.rcon.commands)
}

func TestRconCommandValidation(t *testing.T) {
	f := newFixture(t)
	token := f.adminToken(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty", `{"command":"  "}`},
		{"multi line", `{"command":"list\nop Steve"}`},
		{"too long", fmt.Sprintf(`{"command":%q}`, strings.Repeat("a", 2000))},
		{"bad json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/rcon", tt.body, token).Code)
		})
	}
	assert.Empty(t, f.rcon.commands)
}

func TestRconCommandFailure(t *testing.T) {
	f := newFixture(t)
	f.rcon.err = errors.New("connect failed")
	rec := f.do(t, "POST", "/api/rcon", `{"command":"list"}`, f.adminToken(t))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(req))
}

func TestWebSocketReceivesPublishedEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Publish(domain.Event{
		Type:      domain.EventRegistrationCompleted,
		Timestamp: time.Now(),
		Data:      domain.RegistrationEvent{RequesterID: "u1", CanonicalName: "Steve"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, domain.EventRegistrationCompleted, got["event"])
}

func TestWebSocketHubStopsWithContext(t *testing.T) {
	hub := NewWebSocketHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.ClientCount())
}
