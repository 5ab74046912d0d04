package guestauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/logging"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

// sessionClaims is the JWT payload of a guest session.
type sessionClaims struct {
	ReservationID string `json:"reservation_id"`
	TenantID      string `json:"tenant_id"`
	GuestName     string `json:"guest_name"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	Units         []Unit `json:"units,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator logs guests in and verifies their session tokens. Tokens
// are HS256-signed and short-lived; there is no server-side revocation
// list, logout just discards the token client-side.
type Authenticator struct {
	directory Directory
	secret    []byte
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(directory Directory, secret []byte, ttl time.Duration, logger *zap.Logger) (*Authenticator, error) {
	if directory == nil {
		return nil, fmt.Errorf("reservation directory is required")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		directory: directory,
		secret:    secret,
		ttl:       ttl,
		logger:    logger.Named("guestauth"),
		now:       time.Now,
	}, nil
}

// Login resolves credentials to exactly one active reservation of the
// resolved tenant and issues a session token bound to it. Anything other
// than exactly one match fails with ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, scope tenant.Resolved, creds Credentials) (string, Session, error) {
	checkIn, err := creds.Validate()
	if err != nil {
		return "", Session{}, err
	}

	reservations, err := a.directory.ActiveReservations(ctx, scope.ID(), checkIn, creds.PhoneLast4)
	if err != nil {
		return "", Session{}, fmt.Errorf("resolving reservation: %w", err)
	}
	if len(reservations) != 1 {
		a.logger.Info("guest login rejected",
			zap.String("tenant", scope.Slug()),
			zap.Int("matches", len(reservations)),
		)
		return "", Session{}, ErrInvalidCredentials
	}
	reservation := reservations[0]

	issuedAt := a.now()
	expiresAt := issuedAt.Add(a.ttl)
	claims := sessionClaims{
		ReservationID: reservation.ID,
		TenantID:      string(scope.ID()),
		GuestName:     reservation.GuestName,
		CheckIn:       reservation.CheckIn.Format("2006-01-02"),
		CheckOut:      reservation.CheckOut.Format("2006-01-02"),
		Units:         reservation.Units,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("signing session token: %w", err)
	}

	a.logger.Info("guest logged in",
		zap.String("tenant", scope.Slug()),
		zap.String("reservation_id", reservation.ID),
	)

	return token, Session{
		ReservationID: reservation.ID,
		TenantID:      scope.ID(),
		GuestName:     reservation.GuestName,
		CheckIn:       reservation.CheckIn,
		CheckOut:      reservation.CheckOut,
		Units:         reservation.Units,
		ExpiresAt:     expiresAt,
	}, nil
}

// Verify parses and validates a session token.
func (a *Authenticator) Verify(tokenString string) (Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrTokenExpired
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Session{}, ErrInvalidToken
	}
	if claims.ReservationID == "" || claims.TenantID == "" {
		return Session{}, ErrInvalidToken
	}

	session := Session{
		ReservationID: claims.ReservationID,
		TenantID:      tenant.ID(claims.TenantID),
		GuestName:     claims.GuestName,
		Units:         claims.Units,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	if checkIn, err := time.Parse("2006-01-02", claims.CheckIn); err == nil {
		session.CheckIn = checkIn
	}
	if checkOut, err := time.Parse("2006-01-02", claims.CheckOut); err == nil {
		session.CheckOut = checkOut
	}
	return session, nil
}

// Authorize checks a verified session against the request's resolved tenant
// and mints the Grant downstream stores require. A mismatch is a security
// event: a token minted for one tenant is being replayed against another.
func (a *Authenticator) Authorize(session Session, scope tenant.Resolved) (Grant, error) {
	if session.TenantID != scope.ID() {
		a.logger.Warn("session presented to wrong tenant",
			logging.SecurityEvent("cross_tenant_token"),
			zap.String("session_tenant", string(session.TenantID)),
			zap.String("request_tenant", string(scope.ID())),
			zap.String("reservation_id", session.ReservationID),
		)
		return Grant{}, ErrTenantMismatch
	}
	return Grant{
		tenantID:      session.TenantID,
		reservationID: session.ReservationID,
		guestName:     session.GuestName,
	}, nil
}
