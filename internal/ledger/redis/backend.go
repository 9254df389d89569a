// Package redis provides a Redis-backed transfer ledger.
//
// Layout under the key prefix:
//
//	seq                      INCR counter for entry IDs
//	entry:<id>               JSON-encoded entry
//	last:<direction>:<key>   ID of the newest entry for key
//	bytime                   sorted set of IDs scored by completion time
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	listBatchSize = 500
)

func init() {
	ledger.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "blobsync:",
	}
}

// NewFactory creates a new Redis ledger from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (ledger.Backend, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}

	db, err := storage.GetInt(config, KeyDB, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], err.Error())
	}
	if db < 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], "must be non-negative")
	}

	maxRetries, err := storage.GetInt(config, KeyMaxRetries, 3)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyMaxRetries, config[KeyMaxRetries], err.Error())
	}

	dialTimeout, err := storage.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDialTimeout, config[KeyDialTimeout], err.Error())
	}

	readTimeout, err := storage.GetDuration(config, KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyReadTimeout, config[KeyReadTimeout], err.Error())
	}

	writeTimeout, err := storage.GetDuration(config, KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyWriteTimeout, config[KeyWriteTimeout], err.Error())
	}

	poolSize, err := storage.GetInt(config, KeyPoolSize, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyPoolSize, config[KeyPoolSize], err.Error())
	}

	keyPrefix := storage.GetString(config, KeyKeyPrefix, "blobsync:")

	opts := &redis.Options{
		Addr:         addr,
		Password:     storage.GetString(config, KeyPassword, ""),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis ledger initialized", "addr", addr, "db", db, "key_prefix", keyPrefix)
	return NewWithClient(client, keyPrefix), nil
}

// Backend is a Redis implementation of ledger.Backend.
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a new backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = "blobsync:"
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) seqKey() string    { return b.prefix + "seq" }
func (b *Backend) byTimeKey() string { return b.prefix + "bytime" }

func (b *Backend) entryKey(id int64) string {
	return b.prefix + "entry:" + strconv.FormatInt(id, 10)
}

func (b *Backend) lastKey(direction, key string) string {
	return b.prefix + "last:" + direction + ":" + key
}

// score orders entries by completion time. Microseconds stay exact in a
// float64.
func score(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro())
}

// Record appends an entry.
func (b *Backend) Record(ctx context.Context, entry *ledger.Entry) error {
	if b.closed.Load() {
		return ledger.ErrClosed
	}

	id, err := b.client.Incr(ctx, b.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis record: next id: %w", err)
	}

	stored := *entry
	stored.ID = id
	data, err := json.Marshal(toRecord(&stored))
	if err != nil {
		return fmt.Errorf("redis record: marshal: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.entryKey(id), data, 0)
	pipe.ZAdd(ctx, b.byTimeKey(), redis.Z{
		Score:  score(entry.CompletedAt),
		Member: strconv.FormatInt(id, 10),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record: %w", err)
	}

	if err := b.updateLast(ctx, &stored); err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// updateLast points the last key at entry unless a newer entry already
// holds it.
func (b *Backend) updateLast(ctx context.Context, entry *ledger.Entry) error {
	lastKey := b.lastKey(entry.Direction, entry.Key)
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, lastKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			prev, err := b.get(ctx, tx, current)
			if err != nil && !errors.Is(err, ledger.ErrNotFound) {
				return err
			}
			if prev != nil && newer(prev, entry) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lastKey, entry.ID, 0)
			return nil
		})
		return err
	}, lastKey)
	if err != nil {
		return fmt.Errorf("redis record: update last: %w", err)
	}
	return nil
}

func newer(a, b *ledger.Entry) bool {
	if !a.CompletedAt.Equal(b.CompletedAt) {
		return a.CompletedAt.After(b.CompletedAt)
	}
	return a.ID > b.ID
}

// Last returns the most recent entry for key and direction.
func (b *Backend) Last(ctx context.Context, key, direction string) (*ledger.Entry, error) {
	if b.closed.Load() {
		return nil, ledger.ErrClosed
	}

	id, err := b.client.Get(ctx, b.lastKey(direction, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis last: %w", err)
	}
	entry, err := b.get(ctx, b.client, id)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("redis last: %w", err)
	}
	return entry, err
}

// getter is the read side shared by *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *Backend) get(ctx context.Context, c getter, id int64) (*ledger.Entry, error) {
	data, err := c.Get(ctx, b.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// List returns entries newest first.
func (b *Backend) List(ctx context.Context, opts *ledger.ListOptions) ([]*ledger.Entry, error) {
	if b.closed.Load() {
		return nil, ledger.ErrClosed
	}
	if opts == nil {
		opts = &ledger.ListOptions{}
	}
	limit := opts.EffectiveLimit()

	var entries []*ledger.Entry
	for start := int64(0); len(entries) < limit; start += listBatchSize {
		ids, err := b.client.ZRevRange(ctx, b.byTimeKey(), start, start+listBatchSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis list: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = b.prefix + "entry:" + id
		}
		values, err := b.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis list: %w", err)
		}

		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			entry, err := decode([]byte(s))
			if err != nil {
				return nil, fmt.Errorf("redis list: %w", err)
			}
			if !strings.HasPrefix(entry.Key, opts.Prefix) {
				continue
			}
			if opts.Direction != "" && entry.Direction != opts.Direction {
				continue
			}
			entries = append(entries, entry)
			if len(entries) == limit {
				break
			}
		}
		if len(ids) < listBatchSize {
			break
		}
	}
	return entries, nil
}

// Close closes the Redis client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

// record is the JSON form of an entry. Times are Unix nanoseconds so the
// zero time survives a round trip.
type record struct {
	ID            int64  `json:"id"`
	Key           string `json:"key"`
	LocalPath     string `json:"local_path"`
	Direction     string `json:"direction"`
	Strategy      string `json:"strategy"`
	SizeBytes     int64  `json:"size_bytes"`
	Blocks        int    `json:"blocks"`
	LastWriteTime int64  `json:"last_write_time"`
	CompletedAt   int64  `json:"completed_at"`
}

func toRecord(e *ledger.Entry) record {
	return record{
		ID:            e.ID,
		Key:           e.Key,
		LocalPath:     e.LocalPath,
		Direction:     e.Direction,
		Strategy:      e.Strategy,
		SizeBytes:     e.SizeBytes,
		Blocks:        e.Blocks,
		LastWriteTime: ledger.UnixNano(e.LastWriteTime),
		CompletedAt:   ledger.UnixNano(e.CompletedAt),
	}
}

func decode(data []byte) (*ledger.Entry, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &ledger.Entry{
		ID:            r.ID,
		Key:           r.Key,
		LocalPath:     r.LocalPath,
		Direction:     r.Direction,
		Strategy:      r.Strategy,
		SizeBytes:     r.SizeBytes,
		Blocks:        r.Blocks,
		LastWriteTime: ledger.FromUnixNano(r.LastWriteTime),
		CompletedAt:   ledger.FromUnixNano(r.CompletedAt),
	}, nil
}
