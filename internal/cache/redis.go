package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/realtime"
)

const DefaultKeyPrefix = "tourapp:cache:"

// RedisConfig configures the Redis backed cache
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RedisCache keeps one hash per collection, field = entity id, value = JSON body
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection with PING
func NewRedisCache(ctx context.Context, config RedisConfig) (*RedisCache, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		Protocol: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisCacheWithClient(client, config.KeyPrefix), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(collection string) string {
	return r.prefix + collection
}

func (r *RedisCache) Apply(ctx context.Context, event realtime.Event) error {
	if event.Collection == "" || event.ID == "" {
		return fmt.Errorf("event without collection or id")
	}

	switch event.Kind {
	case docstore.ChangeRemoved:
		return r.client.HDel(ctx, r.key(event.Collection), event.ID).Err()
	case docstore.ChangeAdded, docstore.ChangeModified:
		body, err := docstore.MarshalData(event.Entity)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", event.Collection, event.ID, err)
		}
		return r.client.HSet(ctx, r.key(event.Collection), event.ID, body).Err()
	default:
		return fmt.Errorf("unknown change kind %q", event.Kind)
	}
}

func (r *RedisCache) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	raw, err := r.client.HGet(ctx, r.key(collection), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrMiss)
		}
		return nil, err
	}
	return docstore.UnmarshalData(raw)
}

func (r *RedisCache) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	entries, err := r.client.HGetAll(ctx, r.key(collection)).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]docstore.Document, 0, len(entries))
	for id, raw := range entries {
		data, err := docstore.UnmarshalData([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("corrupt cache entry %s/%s: %w", collection, id, err)
		}
		docs = append(docs, docstore.Document{ID: id, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (r *RedisCache) Count(ctx context.Context, collection string) (int, error) {
	n, err := r.client.HLen(ctx, r.key(collection)).Result()
	return int(n), err
}

func (r *RedisCache) Stats(ctx context.Context, collections ...string) (map[string]int, error) {
	cmds := make(map[string]*redis.IntCmd, len(collections))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, collection := range collections {
			cmds[collection] = p.HLen(ctx, r.key(collection))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int, len(collections))
	for collection, cmd := range cmds {
		stats[collection] = int(cmd.Val())
	}
	return stats, nil
}

func (r *RedisCache) Clear(ctx context.Context, collection string) error {
	return r.client.Del(ctx, r.key(collection)).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
