// Package profile serves user profiles through an explicit TTL cache. The
// cache is owned by the service, passed by reference to consumers, and
// invalidated by explicit calls rather than ambient global state.
package profile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"investcore/internal/remote"
)

// DefaultTTL is how long a cached profile stays fresh.
const DefaultTTL = 5 * time.Minute

// Remote fetches profiles from the portal API.
type Remote interface {
	GetProfile(ctx context.Context, userID string) (*remote.Profile, error)
}

// Clock supplies the current time.
type Clock func() time.Time

type cacheEntry struct {
	profile   *remote.Profile
	fetchedAt time.Time
}

// Cache is a TTL cache of user profiles.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     Clock
}

// NewCache creates a profile cache with the given TTL.
func NewCache(ttl time.Duration, now Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns a cached profile if it is still fresh.
func (c *Cache) Get(userID string) (*remote.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) > c.ttl {
		delete(c.entries, userID)
		return nil, false
	}

	cp := *entry.profile
	return &cp, true
}

// Put stores a profile.
func (c *Cache) Put(userID string, profile *remote.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *profile
	c.entries[userID] = cacheEntry{profile: &cp, fetchedAt: c.now()}
}

// Invalidate drops a user's cached profile.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Service fetches profiles, caching them for the TTL.
type Service struct {
	remote Remote
	cache  *Cache
	logger *slog.Logger
}

// NewService creates a profile service owning the given cache.
func NewService(rem Remote, cache *Cache, logger *slog.Logger) *Service {
	return &Service{remote: rem, cache: cache, logger: logger}
}

// Get returns the user's profile, from cache when fresh.
func (s *Service) Get(ctx context.Context, userID string) (*remote.Profile, error) {
	if profile, ok := s.cache.Get(userID); ok {
		return profile, nil
	}

	profile, err := s.remote.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cache.Put(userID, profile)
	s.logger.Debug("profile cached", "user_id", userID)
	return profile, nil
}

// Invalidate drops the cached profile so the next Get refetches. Called
// after any mutation the remote accepted.
func (s *Service) Invalidate(userID string) {
	s.cache.Invalidate(userID)
}
