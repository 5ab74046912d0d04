// Package guestauth issues and verifies guest session tokens. A session is
// bound to exactly one (tenant, reservation) pair at login and that binding
// never changes for the token's lifetime.
package guestauth

import (
	"errors"
	"regexp"
	"time"

	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

// Sentinel errors for guest authentication.
var (
	// ErrInvalidCredentials covers unknown, ambiguous, and inactive
	// reservations alike; login failures never say which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates a malformed or tampered session token.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrTokenExpired indicates a structurally valid but expired token.
	ErrTokenExpired = errors.New("session token expired")

	// ErrTenantMismatch indicates a valid session presented against a
	// different tenant than the one it was issued for.
	ErrTenantMismatch = errors.New("session tenant mismatch")
)

var phoneLast4Pattern = regexp.MustCompile(`^\d{4}$`)

// Credentials are what a guest types at the login screen: the reservation's
// check-in date and the last four digits of the phone number on file.
type Credentials struct {
	// CheckInDate in YYYY-MM-DD form.
	CheckInDate string `json:"check_in_date"`

	// PhoneLast4 is exactly four digits.
	PhoneLast4 string `json:"phone_last_4"`
}

// Validate checks credential shape before any directory lookup.
func (c Credentials) Validate() (time.Time, error) {
	checkIn, err := time.Parse("2006-01-02", c.CheckInDate)
	if err != nil {
		return time.Time{}, ErrInvalidCredentials
	}
	if !phoneLast4Pattern.MatchString(c.PhoneLast4) {
		return time.Time{}, ErrInvalidCredentials
	}
	return checkIn, nil
}

// Unit is one accommodation unit attached to a reservation, denormalized
// into the session so chat handlers need no extra lookup.
type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Reservation is the directory record a login resolves against.
type Reservation struct {
	ID         string
	TenantID   tenant.ID
	GuestName  string
	PhoneLast4 string
	CheckIn    time.Time
	CheckOut   time.Time
	Units      []Unit
}

// Session is the verified content of a guest token.
type Session struct {
	ReservationID string
	TenantID      tenant.ID
	GuestName     string
	CheckIn       time.Time
	CheckOut      time.Time
	Units         []Unit
	ExpiresAt     time.Time
}

// Grant proves that a session was checked against the request's resolved
// tenant. The conversation store accepts only a Grant, never a raw session,
// so the tenant-match check cannot be skipped. Authorize is the sole
// constructor.
type Grant struct {
	tenantID      tenant.ID
	reservationID string
	guestName     string
}

// TenantID returns the granted tenant.
func (g Grant) TenantID() tenant.ID { return g.tenantID }

// ReservationID returns the granted reservation.
func (g Grant) ReservationID() string { return g.reservationID }

// GuestName returns the guest's display name.
func (g Grant) GuestName() string { return g.guestName }
