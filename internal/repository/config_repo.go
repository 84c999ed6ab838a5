package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/k2patel/apcupsd-client/internal/models"
)

// redisConfigKey is the well-known key holding the whole configuration
// set as one JSON object.
const redisConfigKey = "ups:config:json"

// ConfigRedis stores the configuration blob in Redis.
type ConfigRedis struct {
	rdb *redis.Client
}

func NewConfigRedis(rdb *redis.Client) *ConfigRedis {
	return &ConfigRedis{rdb: rdb}
}

// Load reads the config blob. A missing key yields an empty scaffold,
// not an error.
func (r *ConfigRedis) Load(ctx context.Context) (models.AppConfig, error) {
	raw, err := r.rdb.Get(ctx, redisConfigKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.AppConfig{}, nil
		}
		return models.AppConfig{}, fmt.Errorf("load config blob: %w", err)
	}

	var cfg models.AppConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return models.AppConfig{}, fmt.Errorf("decode config blob: %w", err)
	}
	return cfg, nil
}

// Save writes the whole blob back. A write is visible to the next Load
// on the same store.
func (r *ConfigRedis) Save(ctx context.Context, cfg models.AppConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config blob: %w", err)
	}
	if err := r.rdb.Set(ctx, redisConfigKey, b, 0).Err(); err != nil {
		return fmt.Errorf("save config blob: %w", err)
	}
	return nil
}
