//go:build wireinject
// +build wireinject

package main

import (
	"game-soul-technology/joker/joker-waiting-room-server/pkg/client"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/issuer"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/queue"

	"github.com/google/wire"
)

func Setup() (*Server, func(), error) {
	wire.Build(wire.NewSet(
		ProvideServer,
		ProvideApplication,
		ProvideRedisOptions,
		ProvideLoggerFactory,
		config.ProvideConfig,
		config.ProvideIssuerConfig,
		config.ProvideRoomConfigStore,
		infra.ProvideClock,
		infra.ProvideHttpClient,
		infra.ProvideRedisClient,
		issuer.ProvideIssuer,
		queue.ProvideStore,
		queue.ProvideQueue,
		client.ProvideHub,
	))
	return nil, nil, nil
}
