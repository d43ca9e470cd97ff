package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRelay stores signals as JSON values with a TTL, shared by every server replica.
type RedisRelay struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisRelay wraps an existing client. The relay owns the client and closes it.
func NewRedisRelay(client *redis.Client, ttl time.Duration) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("relay: nil redis client")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRelay{client: client, ttl: ttl, prefix: "duet:join:"}, nil
}

// DialRedis parses a redis:// URL, pings the server and returns a relay.
func DialRedis(ctx context.Context, rawURL string, ttl time.Duration) (*RedisRelay, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "redis://" + rawURL
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisRelay(client, ttl)
}

func (r *RedisRelay) key(sessionID string) string {
	return r.prefix + sessionID
}

// Close closes the underlying client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Publish stores sig as the latest signal for sessionID.
func (r *RedisRelay) Publish(ctx context.Context, sessionID string, sig Signal) error {
	if sessionID == "" {
		return errors.New("relay: missing session id")
	}
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(sessionID), data, r.ttl).Err()
}

// Latest returns the unexpired signal for sessionID, if any.
func (r *RedisRelay) Latest(ctx context.Context, sessionID string) (Signal, bool, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Signal{}, false, nil
	}
	if err != nil {
		return Signal{}, false, err
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return Signal{}, false, err
	}
	return sig, true, nil
}
