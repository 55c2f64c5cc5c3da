package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
)

const maxTxAttempts = 16

// RedisStore keeps every document (the first two path segments) as one JSON
// string. Writes are optimistic WATCH/MULTI read-modify-writes of that
// document and announce the written path on the document's Pub/Sub channel.
type RedisStore struct {
	rdb  *redis.Client
	log  zerolog.Logger
	subs atomic.Int64
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(rdb *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		log: log.With().Str("component", "realtime_redis").Logger(),
	}
}

func docName(segs []string) string {
	return joinPath(segs[:2])
}

func (s *RedisStore) Get(ctx context.Context, path string) (any, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 1 {
		return s.getCollection(ctx, segs[0])
	}

	doc, err := s.readDoc(ctx, s.rdb, docName(segs))
	if err != nil {
		return nil, err
	}
	return getAt(doc, segs[2:]), nil
}

// getCollection assembles every document of a collection. It walks the key
// space with SCAN and is meant for rare fallback paths only.
func (s *RedisStore) getCollection(ctx context.Context, collection string) (any, error) {
	pattern := config.CacheKey.RealtimeCollectionPattern(joinPath([]string{collection}))
	prefix := strings.TrimSuffix(pattern, "*")

	out := make(map[string]any)
	iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := strings.TrimPrefix(key, config.CacheKey.RealtimeDocKey(""))
		docSegs, err := splitPath(name)
		if err != nil || len(docSegs) != 2 || !strings.HasPrefix(key, prefix) {
			continue
		}
		doc, err := s.readDoc(ctx, s.rdb, name)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out[docSegs[1]] = doc
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) readDoc(ctx context.Context, c getter, name string) (any, error) {
	raw, err := c.Get(ctx, config.CacheKey.RealtimeDocKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return doc, nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return s.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		return setAt(doc, rel, v)
	})
}

func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		return updateAt(doc, rel, fields)
	})
}

func (s *RedisStore) Touch(ctx context.Context, path string, fields map[string]any) error {
	return s.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		return touchAt(doc, rel, fields)
	})
}

func (s *RedisStore) Transact(ctx context.Context, path string, fn func(current any) (any, error)) error {
	return s.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		next, err := fn(deepCopy(getAt(doc, rel)))
		if err != nil {
			return nil, err
		}
		v, err := normalize(next)
		if err != nil {
			return nil, err
		}
		return setAt(doc, rel, v)
	})
}

func (s *RedisStore) mutate(ctx context.Context, path string, apply func(doc any, rel []string) (any, error)) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) < 2 {
		return ErrCollectionWrite
	}

	name := docName(segs)
	key := config.CacheKey.RealtimeDocKey(name)
	channel := config.CacheKey.RealtimeChannel(name)
	announced := joinPath(segs)

	txn := func(tx *redis.Tx) error {
		doc, err := s.readDoc(ctx, tx, name)
		if err != nil {
			return err
		}
		next, err := apply(doc, segs[2:])
		if err != nil {
			return err
		}

		var data []byte
		if next != nil {
			if data, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode %s: %w", name, err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if data == nil {
				p.Del(ctx, key)
			} else {
				p.Set(ctx, key, data, 0)
			}
			p.Publish(ctx, channel, announced)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug().Str("doc", name).Int("attempt", attempt+1).Msg("Concurrent write, retrying transaction")
			continue
		}
		return err
	}
	return ErrTxConflict
}

func (s *RedisStore) Subscribe(ctx context.Context, path string, onChange func(value any)) (func(), error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) < 2 {
		return nil, ErrCollectionSubscribe
	}

	name := docName(segs)
	pubsub := s.rdb.Subscribe(ctx, config.CacheKey.RealtimeChannel(name))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := pubsub.Channel()
	box := newMailbox(onChange)
	log := s.log.With().Str("path", path).Logger()

	deliver := func() {
		v, err := s.Get(subCtx, path)
		if err != nil {
			if subCtx.Err() == nil {
				log.Warn().Err(err).Msg("Failed to read value for subscriber")
			}
			return
		}
		box.push(v)
	}

	go func() {
		defer pubsub.Close()
		deliver()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				changed, err := splitPath(msg.Payload)
				if err != nil || overlaps(changed, segs) {
					deliver()
				}
			}
		}
	}()

	s.subs.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.Add(-1)
			cancel()
			box.close()
		})
	}, nil
}

// Subscribers returns the number of open subscriptions on this store.
func (s *RedisStore) Subscribers() int {
	return int(s.subs.Load())
}
