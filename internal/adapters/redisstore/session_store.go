// Package redisstore keeps front-end sessions in Redis so they survive
// restarts and can be shared by several API processes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "aule:session:"
	maxRetries = 10
)

// SessionStore stores each session as a JSON string under aule:session:{id}.
// Update uses WATCH/MULTI so concurrent writers never lose an update.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore connects to url (redis://host:port/db) and pings it. A
// zero ttl keeps sessions forever.
func NewSessionStore(ctx context.Context, url string, ttl time.Duration) (*SessionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewSessionStoreFromClient(client, ttl), nil
}

func NewSessionStoreFromClient(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, now: time.Now}
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) Create(ctx context.Context) (domain.Session, error) {
	sess := domain.NewSession(s.now().UTC())
	raw, err := json.Marshal(sess)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.client.Set(ctx, key(sess.ID), raw, s.ttl).Err(); err != nil {
		return domain.Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	return get(ctx, s.client, id)
}

func (s *SessionStore) Update(ctx context.Context, id domain.SessionID, fn func(domain.Session) (domain.Session, error)) (domain.Session, error) {
	var result domain.Session

	txf := func(tx *redis.Tx) error {
		current, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			result = current
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(id), raw, s.ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue // another writer won the race; reapply fn on fresh state
		}
		return result, err
	}
	return domain.Session{}, fmt.Errorf("session %s: too much contention", id)
}

func get(ctx context.Context, c redis.Cmdable, id domain.SessionID) (domain.Session, error) {
	raw, err := c.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return sess, nil
}

func key(id domain.SessionID) string {
	return keyPrefix + string(id)
}
