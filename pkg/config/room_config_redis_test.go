package config

import (
	"context"
	"sync"
	"testing"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisRoomConfigStore(t *testing.T) (*RedisRoomConfigStore, *miniredis.Miniredis, *time.Time) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewRedisRoomConfigStore(client, infra.NewFixedClock(&now), infra.NewNopLoggerFactory()), mr, &now
}

func TestRedisRoomConfigStore_CreateThenUpdate(t *testing.T) {
	store, mr, now := newTestRedisRoomConfigStore(t)
	ctx := context.Background()

	committed, created, err := store.Write(ctx, validRoomConfig("Lobby"), true)
	require.NoError(t, err)
	require.True(t, committed)
	assert.Equal(t, now.Unix(), created.LastUpdated)
	assert.Equal(t, "Lobby", mr.HGet(roomIndexKey, "lobby"))

	committed, _, err = store.Write(ctx, validRoomConfig("LOBBY"), true)
	require.NoError(t, err)
	assert.False(t, committed, "second create must conflict")

	stored, err := store.Read(ctx, "lobby")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *created, *stored)
	stored.ParticipantLimit = 200

	committed, updated, err := store.Write(ctx, *stored, false)
	require.NoError(t, err)
	require.True(t, committed)
	assert.Equal(t, created.LastUpdated+1, updated.LastUpdated)

	committed, _, err = store.Write(ctx, *stored, false)
	require.NoError(t, err)
	assert.False(t, committed, "stale version must conflict")

	current, err := store.Read(ctx, "Lobby")
	require.NoError(t, err)
	assert.Equal(t, int64(200), current.ParticipantLimit)
	assert.Equal(t, updated.LastUpdated, current.LastUpdated)
}

func TestRedisRoomConfigStore_UpdateMissingRoomConflicts(t *testing.T) {
	store, mr, _ := newTestRedisRoomConfigStore(t)

	committed, _, err := store.Write(context.Background(), validRoomConfig("Lobby"), false)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.False(t, mr.Exists(roomConfigKey("Lobby")))
}

func TestRedisRoomConfigStore_ConcurrentWritesCommitOnce(t *testing.T) {
	store, _, now := newTestRedisRoomConfigStore(t)
	ctx := context.Background()

	_, created, err := store.Write(ctx, validRoomConfig("Lobby"), true)
	require.NoError(t, err)
	*now = now.Add(time.Minute)

	for name, write := range map[string]func(i int) (bool, error){
		"update": func(i int) (bool, error) {
			update := *created
			update.ParticipantLimit = int64(200 + i)
			ok, _, err := store.Write(ctx, update, false)
			return ok, err
		},
		"create": func(i int) (bool, error) {
			ok, _, err := store.Write(ctx, validRoomConfig("Cellar"), true)
			return ok, err
		},
	} {
		var (
			wg        sync.WaitGroup
			lock      sync.Mutex
			committed int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := write(i)
				assert.NoError(t, err, name)

				lock.Lock()
				defer lock.Unlock()
				if ok {
					committed++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, committed, name)
	}
}

func TestRedisRoomConfigStore_ExistsAndList(t *testing.T) {
	store, _, _ := newTestRedisRoomConfigStore(t)
	ctx := context.Background()

	for _, name := range []string{"Lobby", "Cellar", "Attic"} {
		_, _, err := store.Write(ctx, validRoomConfig(name), true)
		require.NoError(t, err)
	}

	exists, err := store.Exists(ctx, "LOBBY")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "Garden")
	require.NoError(t, err)
	assert.False(t, exists)

	some, err := store.List(ctx, []string{"lobby", "ATTIC", "garden"})
	require.NoError(t, err)
	assert.Len(t, some, 2)
	assert.Equal(t, int64(100), some["Lobby"].ParticipantLimit)
	assert.Contains(t, some, "Attic")

	all, err := store.List(ctx, []string{AllRooms})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
