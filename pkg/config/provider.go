package config

import (
	"fmt"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/redis/go-redis/v9"
)

func ProvideRoomConfigStore(cfg *Config, redisClient *redis.Client, clock infra.Clock, loggerFactory *infra.LoggerFactory) (RoomConfigStore, error) {
	switch *cfg.Store {
	case StoreRedis:
		return NewRedisRoomConfigStore(redisClient, clock, loggerFactory), nil
	case StoreMemory:
		return NewMemoryRoomConfigStore(clock, loggerFactory), nil
	default:
		return nil, fmt.Errorf("unknown store[%v], want %v or %v", *cfg.Store, StoreRedis, StoreMemory)
	}
}
