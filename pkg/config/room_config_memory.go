package config

import (
	"context"
	"strings"
	"sync"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/emirpasic/gods/maps/treemap"
	"go.uber.org/zap"
)

// MemoryRoomConfigStore keeps configurations in process. Key value:
// lower-cased room name -> RoomConfig.
type MemoryRoomConfigStore struct {
	rooms *treemap.Map
	lock  sync.Mutex

	clock  infra.Clock
	logger *zap.SugaredLogger
}

func NewMemoryRoomConfigStore(clock infra.Clock, loggerFactory *infra.LoggerFactory) *MemoryRoomConfigStore {
	return &MemoryRoomConfigStore{
		rooms:  treemap.NewWithStringComparator(),
		clock:  clock,
		logger: loggerFactory.Create("RoomConfigStore").Sugar(),
	}
}

func (s *MemoryRoomConfigStore) Read(ctx context.Context, room string) (*RoomConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	value, ok := s.rooms.Get(strings.ToLower(room))
	if !ok {
		return nil, nil
	}
	roomCfg := value.(RoomConfig)
	return &roomCfg, nil
}

func (s *MemoryRoomConfigStore) Write(ctx context.Context, roomCfg RoomConfig, create bool) (bool, *RoomConfig, error) {
	if err := roomCfg.Validate(); err != nil {
		return false, nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	key := strings.ToLower(roomCfg.Name)
	var stored int64
	value, exists := s.rooms.Get(key)
	if exists {
		stored = value.(RoomConfig).LastUpdated
	}
	if create == exists || (exists && stored != roomCfg.LastUpdated) {
		s.logger.Infof("room config write conflict room[%v] lastUpdated[%v]", roomCfg.Name, roomCfg.LastUpdated)
		return false, &roomCfg, nil
	}

	updated := roomCfg
	updated.LastUpdated = nextVersion(s.clock().Unix(), stored)
	s.rooms.Put(key, updated)

	s.logger.Infof("room config written room[%v] lastUpdated[%v]", updated.Name, updated.LastUpdated)
	return true, &updated, nil
}

func (s *MemoryRoomConfigStore) Exists(ctx context.Context, room string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, ok := s.rooms.Get(strings.ToLower(room))
	return ok, nil
}

func (s *MemoryRoomConfigStore) List(ctx context.Context, access []string) (map[string]*RoomConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	all, allowed := allowedRooms(access)
	result := make(map[string]*RoomConfig)
	it := s.rooms.Iterator()
	for it.Begin(); it.Next(); {
		if _, ok := allowed[it.Key().(string)]; !all && !ok {
			continue
		}
		roomCfg := it.Value().(RoomConfig)
		result[roomCfg.Name] = &roomCfg
	}
	return result, nil
}
