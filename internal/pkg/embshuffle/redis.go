package embshuffle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-redis/redis/v8"

	"github.com/emberql/emberql/plan"
)

// RedisStore backs the shuffle store with a shared Redis instance instead
// of process memory, letting consumers running on a different worker pull
// a producer's batches directly rather than routing through embtransport.
// Adapted from internal/pkg/corcache/redis.go's RedisBackedCache, which
// gave MapReduce intermediate files the same "shared durable buffer"
// treatment via Get/Set; channels here are Redis lists of self-contained
// IPC-framed batches rather than whole files.
type RedisStore struct {
	Client redis.UniversalClient
	prefix string
}

// RedisConfig mirrors corcache.ClientConfig's shape (spec.md §2 domain
// stack: go-redis/redis/v8 backs the optional distributed shuffle store).
type RedisConfig struct {
	Addrs    []string
	DB       int
	Username string
	Password string
}

func (c *RedisConfig) asOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:    c.Addrs,
		DB:       c.DB,
		Username: c.Username,
		Password: c.Password,
	}
}

func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	client := redis.NewUniversalClient(cfg.asOptions())
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("embshuffle: redis ping: %w", err)
	}
	return &RedisStore{Client: client, prefix: "emberql:shuffle:"}, nil
}

func (s *RedisStore) keys(channel string) (batches, meta, closed, released, notify string) {
	base := s.prefix + channel
	return base + ":batches", base + ":meta", base + ":closed", base + ":released", base + ":notify"
}

func (s *RedisStore) Open(channel string, schema *arrow.Schema, consumption plan.ConsumptionMode) (Writer, error) {
	_, metaKey, _, _, _ := s.keys(channel)
	ctx := context.Background()
	n, err := s.Client.Exists(ctx, metaKey).Result()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrChannelExists
	}
	meta := encodeSchema(schema)
	if err := s.Client.HSet(ctx, metaKey, "schema", meta, "consumption", int(consumption)).Err(); err != nil {
		return nil, err
	}
	return &redisWriter{store: s, channel: channel, schema: schema}, nil
}

func (s *RedisStore) Subscribe(channel string) (Reader, error) {
	_, metaKey, _, _, _ := s.keys(channel)
	ctx := context.Background()
	n, err := s.Client.Exists(ctx, metaKey).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrChannelNotFound
	}
	return &redisReader{store: s, channel: channel}, nil
}

func (s *RedisStore) Release(channel string) error {
	batchesKey, metaKey, closedKey, releasedKey, notifyKey := s.keys(channel)
	ctx := context.Background()
	if err := s.Client.Set(ctx, releasedKey, "1", time.Hour).Err(); err != nil {
		return err
	}
	s.Client.Publish(ctx, notifyKey, "released")
	return s.Client.Del(ctx, batchesKey, metaKey, closedKey).Err()
}

type redisWriter struct {
	store   *RedisStore
	channel string
	schema  *arrow.Schema
}

func (w *redisWriter) Append(rec arrow.Record) error {
	var buf bytes.Buffer
	iw := ipc.NewWriter(&buf, ipc.WithSchema(w.schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err := iw.Write(rec); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}
	batchesKey, _, _, _, notifyKey := w.store.keys(w.channel)
	ctx := context.Background()
	if err := w.store.Client.RPush(ctx, batchesKey, buf.Bytes()).Err(); err != nil {
		return err
	}
	w.store.Client.Publish(ctx, notifyKey, "batch")
	return nil
}

func (w *redisWriter) Close() error {
	_, _, closedKey, _, notifyKey := w.store.keys(w.channel)
	ctx := context.Background()
	if err := w.store.Client.Set(ctx, closedKey, "1", time.Hour).Err(); err != nil {
		return err
	}
	w.store.Client.Publish(ctx, notifyKey, "closed")
	return nil
}

type redisReader struct {
	store   *RedisStore
	channel string
	cursor  int64
}

func (r *redisReader) Next(ctx context.Context) (arrow.Record, error) {
	batchesKey, _, closedKey, releasedKey, notifyKey := r.store.keys(r.channel)
	for {
		length, err := r.store.Client.LLen(ctx, batchesKey).Result()
		if err != nil {
			return nil, err
		}
		if r.cursor < length {
			raw, err := r.store.Client.LIndex(ctx, batchesKey, r.cursor).Bytes()
			if err != nil {
				return nil, err
			}
			r.cursor++
			return decodeOneBatch(raw)
		}

		released, err := r.store.Client.Exists(ctx, releasedKey).Result()
		if err != nil {
			return nil, err
		}
		if released > 0 {
			return nil, ErrReleased
		}

		closed, err := r.store.Client.Exists(ctx, closedKey).Result()
		if err != nil {
			return nil, err
		}
		if closed > 0 {
			return nil, io.EOF
		}

		if err := r.waitForNotify(ctx, notifyKey); err != nil {
			return nil, err
		}
	}
}

// waitForNotify blocks until a publisher signals the channel or ctx is
// cancelled. A short poll timeout guards against a publish landing
// between Subscribe and the blocking Receive, the same race corcache's
// Scan-based polling sidesteps by re-checking state on every wakeup.
func (r *redisReader) waitForNotify(ctx context.Context, notifyKey string) error {
	sub := r.store.Client.Subscribe(ctx, notifyKey)
	defer sub.Close()
	select {
	case <-sub.Channel():
		return nil
	case <-time.After(250 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *redisReader) Close() error {
	return nil
}

func decodeOneBatch(raw []byte) (arrow.Record, error) {
	rr, err := ipc.NewReader(bytes.NewReader(raw), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, err
	}
	defer rr.Release()
	if !rr.Next() {
		if err := rr.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("embshuffle: empty batch frame")
	}
	rec := rr.Record()
	rec.Retain()
	return rec, nil
}

// encodeSchema gives Redis a stable, human-debuggable field summary; full
// schema fidelity is carried by the IPC frame itself, so the hash entry is
// informational only (same role as corcache.FileInfo.Name for Stat()).
func encodeSchema(s *arrow.Schema) string {
	if s == nil {
		return ""
	}
	names := make([]byte, 0, 64)
	for i, f := range s.Fields() {
		if i > 0 {
			names = append(names, ',')
		}
		names = append(names, []byte(f.Name)...)
	}
	return string(names)
}
