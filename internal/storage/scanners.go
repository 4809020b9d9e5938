package storage

import (
	"database/sql"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanRegistration scans a registrations row
func scanRegistration(sc scanner) (*domain.Registration, error) {
	var reg domain.Registration
	var createdAt sql.NullTime
	if err := sc.Scan(&reg.RequesterID, &reg.CanonicalID, &reg.CanonicalName, &createdAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		reg.CreatedAt = createdAt.Time
	}
	return &reg, nil
}
