package guestauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/tenant"
	"github.com/toneill57/muva-chat-sub006/internal/tenant/tenanttest"
)

type fakeDirectory struct {
	reservations []Reservation
	err          error
	calls        int
}

func (f *fakeDirectory) ActiveReservations(_ context.Context, tenantID tenant.ID, checkIn time.Time, phoneLast4 string) ([]Reservation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var matched []Reservation
	for _, r := range f.reservations {
		if r.TenantID == tenantID && r.CheckIn.Equal(checkIn) && r.PhoneLast4 == phoneLast4 {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func testReservation() Reservation {
	return Reservation{
		ID:         "res-123",
		TenantID:   "tenant-a",
		GuestName:  "Ana Pérez",
		PhoneLast4: "4242",
		CheckIn:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Units:      []Unit{{ID: "unit-1", Name: "Suite 2"}},
	}
}

func newTestAuthenticator(t *testing.T, directory Directory) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(directory, []byte("test-secret"), time.Hour, zap.NewNop())
	require.NoError(t, err)
	return auth
}

func validCredentials() Credentials {
	return Credentials{CheckInDate: "2026-03-10", PhoneLast4: "4242"}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	directory := &fakeDirectory{reservations: []Reservation{testReservation()}}
	auth := newTestAuthenticator(t, directory)
	scope := tenanttest.Resolved(t, "tenant-a", "hotel-a")

	token, session, err := auth.Login(context.Background(), scope, validCredentials())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "res-123", session.ReservationID)
	assert.Equal(t, tenant.ID("tenant-a"), session.TenantID)

	verified, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "res-123", verified.ReservationID)
	assert.Equal(t, tenant.ID("tenant-a"), verified.TenantID)
	assert.Equal(t, "Ana Pérez", verified.GuestName)
	assert.Equal(t, "2026-03-10", verified.CheckIn.Format("2006-01-02"))
	assert.Equal(t, "2026-03-15", verified.CheckOut.Format("2006-01-02"))
	require.Len(t, verified.Units, 1)
	assert.Equal(t, "Suite 2", verified.Units[0].Name)
}

func TestLoginCredentialShape(t *testing.T) {
	directory := &fakeDirectory{reservations: []Reservation{testReservation()}}
	auth := newTestAuthenticator(t, directory)
	scope := tenanttest.Resolved(t, "tenant-a", "hotel-a")

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"bad date", Credentials{CheckInDate: "10/03/2026", PhoneLast4: "4242"}},
		{"empty date", Credentials{CheckInDate: "", PhoneLast4: "4242"}},
		{"short phone", Credentials{CheckInDate: "2026-03-10", PhoneLast4: "42"}},
		{"alpha phone", Credentials{CheckInDate: "2026-03-10", PhoneLast4: "42ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := auth.Login(context.Background(), scope, tt.creds)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
	assert.Zero(t, directory.calls, "malformed credentials never reach the directory")
}

func TestLoginRequiresExactlyOneMatch(t *testing.T) {
	scope := tenanttest.Resolved(t, "tenant-a", "hotel-a")

	t.Run("no match", func(t *testing.T) {
		auth := newTestAuthenticator(t, &fakeDirectory{})
		_, _, err := auth.Login(context.Background(), scope, validCredentials())
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("ambiguous match", func(t *testing.T) {
		first := testReservation()
		second := testReservation()
		second.ID = "res-456"
		auth := newTestAuthenticator(t, &fakeDirectory{reservations: []Reservation{first, second}})
		_, _, err := auth.Login(context.Background(), scope, validCredentials())
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("other tenant's reservation", func(t *testing.T) {
		foreign := testReservation()
		foreign.TenantID = "tenant-b"
		auth := newTestAuthenticator(t, &fakeDirectory{reservations: []Reservation{foreign}})
		_, _, err := auth.Login(context.Background(), scope, validCredentials())
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	directory := &fakeDirectory{reservations: []Reservation{testReservation()}}
	auth := newTestAuthenticator(t, directory)
	scope := tenanttest.Resolved(t, "tenant-a", "hotel-a")

	token, _, err := auth.Login(context.Background(), scope, validCredentials())
	require.NoError(t, err)

	_, err = auth.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	directory := &fakeDirectory{reservations: []Reservation{testReservation()}}
	scope := tenanttest.Resolved(t, "tenant-a", "hotel-a")

	issuer, err := NewAuthenticator(directory, []byte("other-secret"), time.Hour, zap.NewNop())
	require.NoError(t, err)
	token, _, err := issuer.Login(context.Background(), scope, validCredentials())
	require.NoError(t, err)

	auth := newTestAuthenticator(t, directory)
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	directory := &fakeDirectory{reservations: []Reservation{testReservation()}}
	auth := newTestAuthenticator(t, directory)
	scope := tenanttest.Resolved(t, "tenant-a", "hotel-a")

	issued := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }
	token, _, err := auth.Login(context.Background(), scope, validCredentials())
	require.NoError(t, err)

	auth.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthorize(t *testing.T) {
	directory := &fakeDirectory{reservations: []Reservation{testReservation()}}
	auth := newTestAuthenticator(t, directory)
	home := tenanttest.Resolved(t, "tenant-a", "hotel-a")
	other := tenanttest.Resolved(t, "tenant-b", "hotel-b")

	token, _, err := auth.Login(context.Background(), home, validCredentials())
	require.NoError(t, err)
	session, err := auth.Verify(token)
	require.NoError(t, err)

	grant, err := auth.Authorize(session, home)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID("tenant-a"), grant.TenantID())
	assert.Equal(t, "res-123", grant.ReservationID())
	assert.Equal(t, "Ana Pérez", grant.GuestName())

	_, err = auth.Authorize(session, other)
	assert.ErrorIs(t, err, ErrTenantMismatch)
}
