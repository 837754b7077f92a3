package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewSessionStore(context.Background(), "redis://"+mr.Addr()+"/0", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestSessionStore_CreateGet(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+string(sess.ID)))
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+string(sess.ID)))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, domain.ModeStudio, got.Mode)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_Update(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	updated, err := store.Update(ctx, sess.ID, func(s domain.Session) (domain.Session, error) {
		return s.WithMode(domain.ModeVoiceover, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeVoiceover, updated.Mode)

	// A failing transition leaves the stored value alone.
	_, err = store.Update(ctx, sess.ID, func(s domain.Session) (domain.Session, error) {
		return s.WithMode("karaoke", time.Now())
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeVoiceover, got.Mode)

	_, err = store.Update(ctx, "missing", func(s domain.Session) (domain.Session, error) { return s, nil })
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	const writers = 5
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, sess.ID, func(s domain.Session) (domain.Session, error) {
				return s.WithBatch(domain.NewBatchID(), time.Now()), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Batches, writers)
}

func TestNewSessionStore_Unreachable(t *testing.T) {
	_, err := NewSessionStore(context.Background(), "redis://127.0.0.1:1/0", 0)
	assert.Error(t, err)

	_, err = NewSessionStore(context.Background(), "not a url", 0)
	assert.Error(t, err)
}

func TestGet_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewSessionStoreFromClient(client, 0)

	require.NoError(t, mr.Set(keyPrefix+"bad", "{not json"))
	_, err := store.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrSessionNotFound))
}
