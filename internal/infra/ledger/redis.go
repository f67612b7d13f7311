package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// DefaultRedisKey is the list holding the ledger.
const DefaultRedisKey = "finly:ledger"

// Redis stores the ledger as a Redis list. RPUSH is atomic, so several
// processes can append to the same ledger safely.
type Redis struct {
	client redis.Cmdable
	key    string
	log    *slog.Logger
}

// RedisConfig configures the Redis ledger.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Key         string
	DialTimeout time.Duration
}

// NewRedis connects to Redis and verifies the connection with a PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, *redis.Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("%w: redis %s: %v", domain.ErrPersistenceUnavailable, cfg.Addr, err)
	}
	return NewRedisWithClient(client, cfg.Key), client, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.Cmdable, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, log: logging.New("ledger.redis")}
}

// Append pushes one record onto the list.
func (r *Redis) Append(ctx context.Context, rec domain.LedgerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", domain.ErrPersistence, err)
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		observability.LedgerAppends.WithLabelValues("redis", observability.ResultError).Inc()
		return fmt.Errorf("%w: rpush: %v", domain.ErrPersistence, err)
	}
	observability.LedgerAppends.WithLabelValues("redis", observability.ResultOK).Inc()
	return nil
}

// ReadAll returns the whole list in append order. Entries that do not
// decode are skipped.
func (r *Redis) ReadAll(ctx context.Context) ([]domain.LedgerRecord, error) {
	items, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lrange: %v", domain.ErrPersistenceUnavailable, err)
	}
	out := make([]domain.LedgerRecord, 0, len(items))
	for i, item := range items {
		var rec domain.LedgerRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			r.log.Warn("skipping unreadable ledger entry", "key", r.key, "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
