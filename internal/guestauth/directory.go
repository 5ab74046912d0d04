package guestauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

// Directory resolves login credentials against the reservation records of
// one tenant.
type Directory interface {
	// ActiveReservations returns the tenant's active reservations matching
	// the check-in date and phone digits. Zero matches is not an error.
	ActiveReservations(ctx context.Context, tenantID tenant.ID, checkIn time.Time, phoneLast4 string) ([]Reservation, error)
}

// PostgresDirectory reads reservations from the relational store.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a reservation directory over db.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const activeReservationsQuery = `
SELECT id, guest_name, phone_last_4, check_in, check_out, units
FROM reservations
WHERE tenant_id = $1
  AND status = 'active'
  AND check_in = $2
  AND phone_last_4 = $3`

// ActiveReservations implements Directory.
func (d *PostgresDirectory) ActiveReservations(ctx context.Context, tenantID tenant.ID, checkIn time.Time, phoneLast4 string) ([]Reservation, error) {
	rows, err := d.db.QueryContext(ctx, activeReservationsQuery, string(tenantID), checkIn.Format("2006-01-02"), phoneLast4)
	if err != nil {
		return nil, fmt.Errorf("querying reservations: %w", err)
	}
	defer rows.Close()

	var reservations []Reservation
	for rows.Next() {
		var (
			r        Reservation
			rawUnits []byte
		)
		if err := rows.Scan(&r.ID, &r.GuestName, &r.PhoneLast4, &r.CheckIn, &r.CheckOut, &rawUnits); err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		r.TenantID = tenantID
		if len(rawUnits) > 0 {
			if err := json.Unmarshal(rawUnits, &r.Units); err != nil {
				return nil, fmt.Errorf("decoding units for reservation %s: %w", r.ID, err)
			}
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reservations: %w", err)
	}
	return reservations, nil
}
