package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no valid session token is available. Callers
// that depend on an authenticated session should skip remote work rather
// than fail hard when they see it.
var ErrNoToken = errors.New("no valid auth token")

// SessionClaims are the claims carried by portal session tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// TokenProvider supplies the current session token for remote calls.
type TokenProvider interface {
	// Token returns the active bearer token, or ErrNoToken when no session
	// is established or the token has expired.
	Token() (string, error)
	// UserID returns the user ID bound to the active session, or ErrNoToken.
	UserID() (string, error)
}

// SessionStore holds the token for the currently signed-in user. Login and
// logout flows call SetToken and ClearToken; background services read
// through the TokenProvider interface.
type SessionStore struct {
	mu     sync.RWMutex
	secret []byte

	token  string
	claims *SessionClaims
}

// NewSessionStore creates an empty session store. Tokens set on it are
// verified against the given HMAC secret.
func NewSessionStore(secret string) *SessionStore {
	return &SessionStore{secret: []byte(secret)}
}

// SetToken validates and installs a session token. An invalid or expired
// token is rejected and the existing session, if any, is left untouched.
func (s *SessionStore) SetToken(tokenStr string) error {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return fmt.Errorf("parsing session token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return errors.New("invalid session claims")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tokenStr
	s.claims = claims
	return nil
}

// ClearToken drops the active session.
func (s *SessionStore) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.claims = nil
}

// Token implements TokenProvider. A token past its expiry is treated the
// same as no token at all.
func (s *SessionStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" || s.claims == nil {
		return "", ErrNoToken
	}
	if exp := s.claims.ExpiresAt; exp != nil && time.Now().After(exp.Time) {
		return "", ErrNoToken
	}
	return s.token, nil
}

// UserID implements TokenProvider.
func (s *SessionStore) UserID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.claims == nil {
		return "", ErrNoToken
	}
	if exp := s.claims.ExpiresAt; exp != nil && time.Now().After(exp.Time) {
		return "", ErrNoToken
	}
	return s.claims.UserID, nil
}
