package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Hash of lower-cased room name -> display name.
	roomIndexKey = "Configuration:Index"

	lastUpdatedField = "lastUpdated"
)

var errVersionMismatch = errors.New("room configuration version mismatch")

func roomConfigKey(room string) string {
	return fmt.Sprintf("Configuration:{%v}", strings.ToLower(room))
}

type RedisRoomConfigStore struct {
	redisClient redis.UniversalClient
	clock       infra.Clock
	logger      *zap.SugaredLogger
}

func NewRedisRoomConfigStore(redisClient redis.UniversalClient, clock infra.Clock, loggerFactory *infra.LoggerFactory) *RedisRoomConfigStore {
	return &RedisRoomConfigStore{
		redisClient: redisClient,
		clock:       clock,
		logger:      loggerFactory.Create("RoomConfigStore").Sugar(),
	}
}

func (s *RedisRoomConfigStore) Read(ctx context.Context, room string) (*RoomConfig, error) {
	s.logger.Debugf("reading room config room[%v]", room)

	cmd := s.redisClient.HGetAll(ctx, roomConfigKey(room))
	values, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	roomCfg := &RoomConfig{}
	if err := cmd.Scan(roomCfg); err != nil {
		return nil, fmt.Errorf("scan room config room[%v]: %w", room, err)
	}
	return roomCfg, nil
}

func (s *RedisRoomConfigStore) Write(ctx context.Context, roomCfg RoomConfig, create bool) (bool, *RoomConfig, error) {
	if err := roomCfg.Validate(); err != nil {
		return false, nil, err
	}
	s.logger.Debugf("writing room config room[%v] create[%v] lastUpdated[%v]", roomCfg.Name, create, roomCfg.LastUpdated)

	key := roomConfigKey(roomCfg.Name)
	updated := roomCfg
	err := s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, key, lastUpdatedField).Int64()
		switch {
		case errors.Is(err, redis.Nil):
			if !create {
				return errVersionMismatch
			}
		case err != nil:
			return err
		case create || stored != roomCfg.LastUpdated:
			return errVersionMismatch
		}

		updated.LastUpdated = nextVersion(s.clock().Unix(), stored)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, updated)
			pipe.HSet(ctx, roomIndexKey, strings.ToLower(updated.Name), updated.Name)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, errVersionMismatch) || errors.Is(err, redis.TxFailedErr) {
		s.logger.Infof("room config write conflict room[%v] lastUpdated[%v]", roomCfg.Name, roomCfg.LastUpdated)
		return false, &roomCfg, nil
	}
	if err != nil {
		return false, nil, err
	}

	s.logger.Infof("room config written room[%v] lastUpdated[%v]", updated.Name, updated.LastUpdated)
	return true, &updated, nil
}

func (s *RedisRoomConfigStore) Exists(ctx context.Context, room string) (bool, error) {
	return s.redisClient.HExists(ctx, roomIndexKey, strings.ToLower(room)).Result()
}

func (s *RedisRoomConfigStore) List(ctx context.Context, access []string) (map[string]*RoomConfig, error) {
	index, err := s.redisClient.HGetAll(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}

	all, allowed := allowedRooms(access)
	var rooms []string
	for lowered := range index {
		if _, ok := allowed[lowered]; all || ok {
			rooms = append(rooms, lowered)
		}
	}
	if len(rooms) == 0 {
		return map[string]*RoomConfig{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(rooms))
	_, err = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, room := range rooms {
			cmds[i] = pipe.HGetAll(ctx, roomConfigKey(room))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make(map[string]*RoomConfig, len(rooms))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			s.logger.Warnf("indexed room has no configuration room[%v]", rooms[i])
			continue
		}
		roomCfg := &RoomConfig{}
		if err := cmd.Scan(roomCfg); err != nil {
			return nil, fmt.Errorf("scan room config room[%v]: %w", rooms[i], err)
		}
		result[roomCfg.Name] = roomCfg
	}
	return result, nil
}
