package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore returns a RedisStore backed by an in-process miniredis.
// Set REDIS_TEST_ADDR to run the same tests against a real server instead;
// DB 15 is used and all relay keys are removed before and after the test.
func newTestRedisStore(t *testing.T, opts ...Option) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		store, _ := newMiniredisStore(t, opts...)
		return store
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	clean := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Del(ctx, IndexKey)
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedisStore(client, opts...)
}

func newMiniredisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, opts...), mr
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{
		TargetURL: "https://example.org/x",
		Cookies:   []Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
		Metadata:  map[string]string{"transaction_id": "tx-1"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "https://example.org/x", got.TargetURL)
	assert.Equal(t, created.Cookies, got.Cookies)
	assert.Equal(t, "tx-1", got.Metadata["transaction_id"])
	assert.Equal(t, created.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Transition(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{})
	require.NoError(t, err)

	got, err := store.Transition(ctx, created.ID, StatusRedirected, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusRedirected, got.Status)

	got, err = store.Transition(ctx, created.ID, StatusRedirected, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusRedirected, got.Status)

	got, err = store.Transition(ctx, created.ID, StatusCompleted, StatusPending, StatusRedirected)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = store.Transition(ctx, created.ID, StatusRedirected, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.Transition(ctx, "missing", StatusCompleted, StatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SetStatusAndEvict(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	keep, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	gone, err := store.Create(ctx, Payload{})
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, gone.ID, StatusExpired))
	_, err = store.Get(ctx, gone.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetStatus(ctx, "missing", StatusCompleted), ErrNotFound)

	evicted, err := store.Evict(ctx, time.Now(), time.Hour)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, gone.ID, evicted[0].ID)
	assert.Equal(t, StatusExpired, evicted[0].Status)

	evicted, err = store.Evict(ctx, time.Now().Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, keep.ID, evicted[0].ID)

	_, err = store.Get(ctx, keep.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_LazyExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := newTestRedisStore(t, WithTTL(time.Minute), WithClock(clock))
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Transition(ctx, created.ID, StatusCompleted, StatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Stats(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	b, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	_, err = store.Transition(ctx, b.ID, StatusCompleted, StatusPending)
	require.NoError(t, err)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByStatus[StatusCompleted])
	assert.Equal(t, []string{a.ID}, st.PendingIDs)
}

func TestRedisStore_IDCollisionRetry(t *testing.T) {
	ids := []string{"dup00001", "dup00001", "dup00002"}
	var i int
	gen := IDGeneratorFunc(func() string {
		id := ids[i%len(ids)]
		i++
		return id
	})
	store := newTestRedisStore(t, WithIDGenerator(gen))
	ctx := context.Background()

	first, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	second, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	assert.Equal(t, "dup00001", first.ID)
	assert.Equal(t, "dup00002", second.ID)
}

func TestDecodeSession_Defaults(t *testing.T) {
	sess, err := decodeSession(map[string]string{
		"id":                 "abc",
		"status":             "pending",
		"created_at":         "1000",
		"last_transition_at": "2000",
		"cookies":            "null",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", sess.ID)
	assert.Nil(t, sess.Cookies)
	assert.NotNil(t, sess.Metadata)
	assert.Equal(t, int64(2000), sess.LastTransitionAt.UnixMilli())

	_, err = decodeSession(map[string]string{"created_at": "x"})
	assert.Error(t, err)
}

func TestRedisStore_KeyTTLIncludesGrace(t *testing.T) {
	store, mr := newMiniredisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	assert.Equal(t, time.Minute+keyGrace, mr.TTL(KeyPrefix+created.ID))

	score, err := mr.ZScore(IndexKey, created.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(created.CreatedAt.UnixMilli()), score)

	noTTL, mr2 := newMiniredisStore(t)
	other, err := noTTL.Create(ctx, Payload{})
	require.NoError(t, err)
	assert.Zero(t, mr2.TTL(KeyPrefix+other.ID))
}

func TestRedisStore_ExpiredIsRescoredForSweep(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, created.ID, StatusExpired))

	score, err := mr.ZScore(IndexKey, created.ID)
	require.NoError(t, err)
	assert.Zero(t, score)
	assert.Equal(t, string(StatusExpired), mr.HGet(KeyPrefix+created.ID, "status"))

	_, err = store.Transition(ctx, created.ID, StatusCompleted, StatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetStatus(ctx, created.ID, StatusCompleted), ErrNotFound)

	// A fresh ttl would not cover a live session, but the re-scored entry is
	// always older than the cutoff.
	evicted, err := store.Evict(ctx, time.Now(), time.Hour)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, created.ID, evicted[0].ID)
	assert.False(t, mr.Exists(KeyPrefix+created.ID))
}

func TestRedisStore_EvictAfterKeyTTL(t *testing.T) {
	now := time.Now()
	store, mr := newMiniredisStore(t, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{TargetURL: "https://example.org/x"})
	require.NoError(t, err)

	// Redis dropped the hash before any sweep ran; only the index remembers
	// the id.
	mr.FastForward(time.Minute + keyGrace + time.Second)
	require.False(t, mr.Exists(KeyPrefix+created.ID))

	evicted, err := store.Evict(ctx, now.Add(3*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, created.ID, evicted[0].ID)
	assert.Equal(t, StatusExpired, evicted[0].Status)
	assert.Empty(t, evicted[0].TargetURL)

	members, _ := mr.ZMembers(IndexKey)
	assert.Empty(t, members)
}

func TestRedisStore_TransitionReturnsSnapshot(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, Payload{
		TargetURL: "https://example.org/x",
		Cookies:   []Cookie{{Name: "a", Value: "1"}},
	})
	require.NoError(t, err)

	got, err := store.Transition(ctx, created.ID, StatusRedirected, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, created.Cookies, got.Cookies)
	assert.Equal(t, "https://example.org/x", got.TargetURL)
	assert.Equal(t, string(StatusRedirected), mr.HGet(KeyPrefix+created.ID, "status"))

	got, err = store.Transition(ctx, created.ID, StatusPending, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusRedirected, got.Status)
}
