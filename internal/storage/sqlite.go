package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

const panelRefKey = "status_panel"

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("storage: not found")

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Registration journal ---

// SaveRegistration records a committed registration
func (s *Store) SaveRegistration(ctx context.Context, reg domain.Registration) error {
	created := reg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registrations (requester_id, canonical_id, canonical_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(requester_id) DO UPDATE SET
			canonical_id = excluded.canonical_id,
			canonical_name = excluded.canonical_name
	`, reg.RequesterID, reg.CanonicalID, reg.CanonicalName, formatTimestamp(created))
	return err
}

// DeleteRegistration removes a requester's record. Deleting a missing
// record is not an error.
func (s *Store) DeleteRegistration(ctx context.Context, requesterID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM registrations WHERE requester_id = ?", requesterID)
	return err
}

// ListRegistrations returns every registration, oldest first
func (s *Store) ListRegistrations(ctx context.Context) ([]domain.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requester_id, canonical_id, canonical_name, created_at
		FROM registrations ORDER BY created_at, requester_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regs := []domain.Registration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// GetRegistration returns one requester's record
func (s *Store) GetRegistration(ctx context.Context, requesterID string) (*domain.Registration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT requester_id, canonical_id, canonical_name, created_at
		FROM registrations WHERE requester_id = ?
	`, requesterID)
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// FindRegistrationsByName returns registrations whose canonical name matches,
// ignoring case
func (s *Store) FindRegistrationsByName(ctx context.Context, name string) ([]domain.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requester_id, canonical_id, canonical_name, created_at
		FROM registrations WHERE canonical_name = ? COLLATE NOCASE ORDER BY created_at
	`, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// --- Settings ---

// GetSetting returns a stored value, or ErrNotFound
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores a value, replacing any previous one
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTimestamp(time.Now()))
	return err
}

// PanelRef returns the persisted status message reference. ok is false when
// no message has been posted yet.
func (s *Store) PanelRef(ctx context.Context) (ref domain.PanelRef, ok bool, err error) {
	value, err := s.GetSetting(ctx, panelRefKey)
	if errors.Is(err, ErrNotFound) {
		return domain.PanelRef{}, false, nil
	}
	if err != nil {
		return domain.PanelRef{}, false, err
	}

	channelID, messageID, found := strings.Cut(value, "/")
	if !found || channelID == "" || messageID == "" {
		return domain.PanelRef{}, false, fmt.Errorf("malformed panel ref %q", value)
	}
	return domain.PanelRef{ChannelID: channelID, MessageID: messageID}, true, nil
}

// SavePanelRef persists the status message reference
func (s *Store) SavePanelRef(ctx context.Context, ref domain.PanelRef) error {
	return s.SetSetting(ctx, panelRefKey, ref.ChannelID+"/"+ref.MessageID)
}

// ClearPanelRef forgets the status message so the next start posts a new one
func (s *Store) ClearPanelRef(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", panelRefKey)
	return err
}
