package profile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investcore/internal/remote"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	name  string
}

func (f *fakeRemote) GetProfile(_ context.Context, userID string) (*remote.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &remote.Profile{UserID: userID, Name: f.name}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(ttl time.Duration, clock *fakeClock, rem *fakeRemote) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(rem, NewCache(ttl, clock.Now), logger)
}

func TestGet_CachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rem := &fakeRemote{name: "Asha"}
	svc := newTestService(time.Minute, clock, rem)
	ctx := context.Background()

	first, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", first.Name)
	assert.Equal(t, 1, rem.calls)

	_, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rem.calls)

	clock.Advance(2 * time.Minute)

	_, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rem.calls)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rem := &fakeRemote{name: "Asha"}
	svc := newTestService(time.Hour, clock, rem)
	ctx := context.Background()

	_, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)

	rem.mu.Lock()
	rem.name = "Asha Rao"
	rem.mu.Unlock()

	// Still cached: the rename is not visible yet.
	cached, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", cached.Name)

	svc.Invalidate("user-1")

	fresh, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", fresh.Name)
	assert.Equal(t, 2, rem.calls)
}

func TestCache_PerUserEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rem := &fakeRemote{name: "Asha"}
	svc := newTestService(time.Hour, clock, rem)
	ctx := context.Background()

	_, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 2, rem.calls)

	svc.Invalidate("user-1")

	_, err = svc.Get(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 2, rem.calls)
}
