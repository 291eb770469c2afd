package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
		UserID: userID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestSessionStore_SetAndGet(t *testing.T) {
	store := NewSessionStore(testSecret)

	_, err := store.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	raw := signToken(t, "user-1", time.Hour)
	require.NoError(t, store.SetToken(raw))

	got, err := store.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	userID, err := store.UserID()
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessionStore_RejectsBadToken(t *testing.T) {
	store := NewSessionStore(testSecret)

	err := store.SetToken("not-a-token")
	assert.Error(t, err)

	// Signed with a different secret.
	other := NewSessionStore("other-secret")
	raw := signToken(t, "user-1", time.Hour)
	assert.Error(t, other.SetToken(raw))
}

func TestSessionStore_ExpiredTokenIsNoToken(t *testing.T) {
	store := NewSessionStore(testSecret)

	raw := signToken(t, "user-1", time.Hour)
	require.NoError(t, store.SetToken(raw))

	// Simulate the session aging past its expiry.
	store.mu.Lock()
	store.claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	store.mu.Unlock()

	_, err := store.Token()
	assert.ErrorIs(t, err, ErrNoToken)
	_, err = store.UserID()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSessionStore_ClearToken(t *testing.T) {
	store := NewSessionStore(testSecret)
	require.NoError(t, store.SetToken(signToken(t, "user-1", time.Hour)))

	store.ClearToken()

	_, err := store.Token()
	assert.ErrorIs(t, err, ErrNoToken)
}
