package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fastpath/fastpath/pkg/logging"
)

// RemoteClient is the wire contract of the shared L2 tier: get/set/delete/
// flush/ping over byte payloads. The server side is external to this
// subsystem.
type RemoteClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Codec converts cache values to and from the portable byte form used on
// the remote tier. Callers supply the codec, keeping core cache logic
// independent of payload representation.
type Codec[V any] interface {
	Marshal(value V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONCodec is the default codec, encoding values as JSON.
type JSONCodec[V any] struct{}

// Marshal implements Codec.
func (JSONCodec[V]) Marshal(value V) ([]byte, error) {
	return json.Marshal(value)
}

// Unmarshal implements Codec.
func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var value V
	err := json.Unmarshal(data, &value)
	return value, err
}

// RemoteConfig configures the connection to the shared cache service.
type RemoteConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultRemoteConfig returns the default L2 client configuration.
func DefaultRemoteConfig() *RemoteConfig {
	return &RemoteConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "fastpath:",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
}

// redisClient implements RemoteClient over a Redis-compatible server.
type redisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient creates a RemoteClient backed by go-redis.
func NewRedisClient(config *RemoteConfig) RemoteClient {
	if config == nil {
		config = DefaultRemoteConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	return &redisClient{client: client, prefix: config.KeyPrefix}
}

func (r *redisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *redisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *redisClient) Flush(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}

func (r *redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClient) Close() error {
	return r.client.Close()
}

// RemoteCache wraps a RemoteClient with value (de)serialization and
// graceful degradation: any network or decode failure is reported as
// absent (or a no-op for writes) so L2 unavailability never fails the
// overall request.
type RemoteCache[V any] struct {
	client RemoteClient
	codec  Codec[V]
	logger *logging.Logger

	errorCount uint64
}

// NewRemoteCache creates the L2 tier wrapper. A nil codec falls back to
// JSON encoding.
func NewRemoteCache[V any](client RemoteClient, codec Codec[V], logger *logging.Logger) *RemoteCache[V] {
	if codec == nil {
		codec = JSONCodec[V]{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RemoteCache[V]{
		client: client,
		codec:  codec,
		logger: logger.WithComponent("cache.l2"),
	}
}

// Get retrieves and decodes a value. Failures degrade to absent.
func (r *RemoteCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	data, found, err := r.client.Get(ctx, key)
	if err != nil {
		atomic.AddUint64(&r.errorCount, 1)
		r.logger.Warn("remote get failed, treating as miss",
			logging.F("key", key), logging.F("error", err.Error()))
		return zero, false
	}
	if !found {
		return zero, false
	}

	value, err := r.codec.Unmarshal(data)
	if err != nil {
		atomic.AddUint64(&r.errorCount, 1)
		r.logger.Warn("remote payload decode failed, treating as miss",
			logging.F("key", key), logging.F("error", err.Error()))
		return zero, false
	}
	return value, true
}

// Set encodes and stores a value. The returned error is informational;
// callers treat L2 write failures as non-fatal.
func (r *RemoteCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := r.codec.Marshal(value)
	if err != nil {
		atomic.AddUint64(&r.errorCount, 1)
		return fmt.Errorf("encode value for %q: %w", key, err)
	}

	if err := r.client.Set(ctx, key, data, ttl); err != nil {
		atomic.AddUint64(&r.errorCount, 1)
		return fmt.Errorf("remote set %q: %w", key, err)
	}
	return nil
}

// Delete removes a key from the remote tier.
func (r *RemoteCache[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Delete(ctx, key); err != nil {
		atomic.AddUint64(&r.errorCount, 1)
		return fmt.Errorf("remote delete %q: %w", key, err)
	}
	return nil
}

// Flush empties the remote tier. Maintenance only.
func (r *RemoteCache[V]) Flush(ctx context.Context) error {
	return r.client.Flush(ctx)
}

// Ping round-trips the remote tier.
func (r *RemoteCache[V]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// ErrorCount returns how many remote operations have failed.
func (r *RemoteCache[V]) ErrorCount() uint64 {
	return atomic.LoadUint64(&r.errorCount)
}

// Close releases the underlying client.
func (r *RemoteCache[V]) Close() error {
	return r.client.Close()
}
