package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate/provider"
)

// ErrRedisUnavailable is returned when Redis cannot be reached.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store is a Redis-backed store of provider sessions keyed by browser
// session ID.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	sliding bool
	now     func() time.Time
}

// NewStore creates a [Store]. Records expire ttl after the last write, or
// after the last read when sliding is set.
func NewStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, sliding bool) *Store {
	if prefix == "" {
		prefix = "ag:ps"
	}
	return &Store{
		redis:   rdb,
		prefix:  prefix,
		ttl:     ttl,
		sliding: sliding,
		now:     time.Now,
	}
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

// Load returns the session stored for id, or (nil, nil) when none exists.
func (s *Store) Load(ctx context.Context, id string) (*provider.Session, error) {
	key := s.key(id)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		// Unreadable records are dropped so the browser can sign in again.
		_ = s.redis.Del(ctx, key).Err()
		return nil, err
	}

	if s.sliding && s.ttl > 0 {
		if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return rec.Session, nil
}

// Save writes sess for id and resets its TTL.
func (s *Store) Save(ctx context.Context, id string, sess *provider.Session) error {
	data, err := Encode(&Record{Session: sess, SavedAt: s.now().Unix()})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes the session for id. Deleting a missing record is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// TTL reports the remaining lifetime of the record for id, or zero when
// missing.
func (s *Store) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Scoped binds the store to one browser session ID.
func (s *Store) Scoped(id string) provider.Storage {
	return scoped{store: s, id: id}
}

type scoped struct {
	store *Store
	id    string
}

func (sc scoped) Load(ctx context.Context) (*provider.Session, error) {
	return sc.store.Load(ctx, sc.id)
}

func (sc scoped) Save(ctx context.Context, sess *provider.Session) error {
	return sc.store.Save(ctx, sc.id, sess)
}

func (sc scoped) Delete(ctx context.Context) error {
	return sc.store.Delete(ctx, sc.id)
}
