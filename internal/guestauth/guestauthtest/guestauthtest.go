// Package guestauthtest builds Grants for tests in other packages. Grants
// are only constructed by Authorize, so the helper runs a real login and
// authorization round trip against a static directory.
package guestauthtest

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
	"github.com/toneill57/muva-chat-sub006/internal/tenant/tenanttest"
)

type staticDirectory struct {
	reservation guestauth.Reservation
}

func (d staticDirectory) ActiveReservations(context.Context, tenant.ID, time.Time, string) ([]guestauth.Reservation, error) {
	return []guestauth.Reservation{d.reservation}, nil
}

// Grant returns a Grant for (tenantID, reservationID) issued through the
// real authenticator path.
func Grant(t *testing.T, tenantID tenant.ID, reservationID string) guestauth.Grant {
	t.Helper()

	scope := tenanttest.Resolved(t, tenantID, "grant-"+string(tenantID))
	directory := staticDirectory{reservation: guestauth.Reservation{
		ID:         reservationID,
		TenantID:   tenantID,
		GuestName:  "Test Guest",
		PhoneLast4: "0000",
		CheckIn:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}}

	auth, err := guestauth.NewAuthenticator(directory, []byte("guestauthtest"), time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("creating authenticator: %v", err)
	}

	token, _, err := auth.Login(context.Background(), scope, guestauth.Credentials{
		CheckInDate: "2026-01-01",
		PhoneLast4:  "0000",
	})
	if err != nil {
		t.Fatalf("logging in: %v", err)
	}
	session, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("verifying token: %v", err)
	}
	grant, err := auth.Authorize(session, scope)
	if err != nil {
		t.Fatalf("authorizing session: %v", err)
	}
	return grant
}
