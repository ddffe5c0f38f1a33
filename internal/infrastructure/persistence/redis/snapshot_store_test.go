package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

func newTestStore(t *testing.T, ttl time.Duration) (*SnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewCache(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return NewSnapshotStore(cache, ttl), mr
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	fetched := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	snapshot := &schedule.Snapshot{
		AccountID: "parent@example.org",
		Students:  []schedule.Student{schedule.NewStudent("101", "Ava", "Lee", "Oak Elementary", "3")},
		Trips: []schedule.Trip{{
			StudentID:   "101",
			Type:        schedule.TripPickup,
			ScheduledAt: fetched.Add(19 * time.Hour),
			StopName:    "Elm & 5th",
			BusNumber:   "42",
		}},
		FetchedAt: fetched,
	}
	require.NoError(t, store.SaveSnapshot(ctx, snapshot))

	key := SnapshotKey("Parent@Example.org ")
	assert.True(t, mr.Exists(key))
	assert.NotContains(t, key, "example.org")
	assert.Equal(t, time.Hour, mr.TTL(key))

	loaded, err := store.LoadSnapshot(ctx, "parent@example.org")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Students, loaded.Students)
	require.Len(t, loaded.Trips, 1)
	assert.True(t, snapshot.Trips[0].ScheduledAt.Equal(loaded.Trips[0].ScheduledAt))
	assert.True(t, fetched.Equal(loaded.FetchedAt))
}

func TestSnapshotStore_Missing(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.LoadSnapshot(context.Background(), "nobody@example.org")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSnapshotStore_Expires(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, &schedule.Snapshot{AccountID: "a@b.org"}))
	mr.FastForward(2 * time.Minute)

	_, err := store.LoadSnapshot(ctx, "a@b.org")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSnapshotStore_CorruptValue(t *testing.T) {
	store, mr := newTestStore(t, 0)
	require.NoError(t, mr.Set(SnapshotKey("a@b.org"), "{not json"))

	_, err := store.LoadSnapshot(context.Background(), "a@b.org")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheSerialization)
}

func TestSnapshotStore_RejectsAnonymous(t *testing.T) {
	store, _ := newTestStore(t, 0)
	err := store.SaveSnapshot(context.Background(), &schedule.Snapshot{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestNewCache_Unreachable(t *testing.T) {
	_, err := NewCache(Config{Host: "127.0.0.1", Port: 1, DialTimeout: 100 * time.Millisecond})
	assert.ErrorIs(t, err, ErrCacheConnection)

	_, err = NewCache(Config{URL: "not-a-url://"})
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestCache_FromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer cache.Close()

	require.NoError(t, cache.Ping(context.Background()))
	assert.ErrorIs(t, cache.Set(context.Background(), "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, cache.Set(context.Background(), "k", 1, -time.Second), ErrCacheInvalidTTL)
}
