package main

import (
	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/redis/go-redis/v9"
)

func ProvideRedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     *cfg.RedisHost,
		DB:       *cfg.RedisDB,
		Password: *cfg.RedisPassword,
	}
}

// ProvideLoggerFactory starts logging at the level --debug asks for.
func ProvideLoggerFactory(cfg *config.Config) *infra.LoggerFactory {
	return infra.NewLoggerFactory(*cfg.Debug)
}
