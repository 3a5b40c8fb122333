package infra

import (
	"context"

	"github.com/redis/go-redis/v9"
)

func ProvideRedisClient(options *redis.Options, loggerFactory *LoggerFactory) (*redis.Client, func()) {
	logger := loggerFactory.Create("RedisClient").Sugar()

	opts := *options
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		logger.Infof("redis connected to host[%v] db[%v]", opts.Addr, opts.DB)
		return nil
	}
	client := redis.NewClient(&opts)

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Errorf("close redis client %v", err)
		}
	}
	return client, cleanup
}
