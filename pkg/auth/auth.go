// Package auth maps bearer tokens to user ids. It is a stand-in for a real
// identity provider: users are keyed by email, login is a fixed one-time
// code, and sessions live in memory until they expire.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/model"

	"github.com/google/uuid"
)

var (
	// ErrUnauthenticated is returned for missing, unknown or expired tokens.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidCode is returned when a one-time code does not match.
	ErrInvalidCode = errors.New("invalid verification code")
)

// Config configures the session directory.
type Config struct {
	// SessionTTL bounds a session's lifetime. Zero means sessions never expire.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// DemoCode is the one-time code every login accepts.
	DemoCode string `mapstructure:"demo_code"`
	// StaticTokens maps fixed bearer tokens to user ids; they never expire.
	StaticTokens map[string]string `mapstructure:"static_tokens"`
}

// DefaultConfig returns a 24h session TTL and demo code 123456.
func DefaultConfig() Config {
	return Config{
		SessionTTL: 24 * time.Hour,
		DemoCode:   "123456",
	}
}

// Session is an issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Directory holds users and sessions.
type Directory struct {
	mu       sync.RWMutex
	config   Config
	users    map[string]string // email -> user id
	sessions map[string]Session
	now      model.Clock
}

// NewDirectory creates an empty directory seeded with the static tokens.
func NewDirectory(config Config, clock model.Clock) *Directory {
	if clock == nil {
		clock = model.SystemClock
	}
	d := &Directory{
		config:   config,
		users:    make(map[string]string),
		sessions: make(map[string]Session),
		now:      clock,
	}
	for token, userID := range config.StaticTokens {
		d.sessions[token] = Session{Token: token, UserID: userID}
	}
	return d
}

// UserFor returns the user id for email, creating the user on first sight.
func (d *Directory) UserFor(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", model.Validationf("invalid email")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.users[email]; ok {
		return id, nil
	}
	id := ledger.NewID("usr")
	d.users[email] = id
	return id, nil
}

// Login verifies code for email and issues a session.
func (d *Directory) Login(email, code string) (Session, error) {
	if code != d.config.DemoCode {
		return Session{}, ErrInvalidCode
	}
	userID, err := d.UserFor(email)
	if err != nil {
		return Session{}, err
	}
	return d.Issue(userID), nil
}

// Issue creates a session for userID.
func (d *Directory) Issue(userID string) Session {
	s := Session{Token: uuid.NewString(), UserID: userID}
	if d.config.SessionTTL > 0 {
		s.ExpiresAt = d.now().Add(d.config.SessionTTL)
	}

	d.mu.Lock()
	d.sessions[s.Token] = s
	d.mu.Unlock()
	return s
}

// Resolve returns the user id behind token. Expired sessions are dropped.
func (d *Directory) Resolve(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrUnauthenticated
	}

	d.mu.RLock()
	s, ok := d.sessions[token]
	d.mu.RUnlock()
	if !ok {
		return "", ErrUnauthenticated
	}
	if !s.ExpiresAt.IsZero() && d.now().After(s.ExpiresAt) {
		d.Revoke(token)
		return "", ErrUnauthenticated
	}
	return s.UserID, nil
}

// Revoke ends a session.
func (d *Directory) Revoke(token string) {
	d.mu.Lock()
	delete(d.sessions, token)
	d.mu.Unlock()
}
