package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/redis/go-redis/v9"
)

const (
	participantsSet = "Participants"
	waitingSet      = "Waiting"
	checkInSet      = "CheckIn"
)

// All keys of a room carry the same {room} hash tag so a cluster keeps them
// in one slot and a transaction can span them.
func roomTag(room string) string {
	return "{" + strings.ToLower(room) + "}"
}

func ticketKey(room, id string) string {
	return fmt.Sprintf("%v:Ticket:%v", roomTag(room), id)
}

func roomSetKey(room, set string) string {
	return fmt.Sprintf("%v:Room:%v", roomTag(room), set)
}

// UpdateRequest scopes one transaction.
type UpdateRequest struct {
	Room string

	// Ticket to load into the snapshot, empty for none.
	TicketId string

	// Epoch seconds. Check-in entries scored below Now are expired.
	Now int64

	// Upper bound of expired entries swept by this transaction.
	SweepMax int64
}

// Snapshot is the room as seen inside a transaction, after the sweep.
type Snapshot struct {
	ParticipantCount int64
	WaitingCount     int64

	// Highest score in the waiting set, 0 when empty.
	TailScore float64

	// Ids removed by the sweep.
	Expired []string

	// Stored record of UpdateRequest.TicketId, nil when absent or expired.
	Ticket *Ticket

	// Whether the ticket has a waiting entry, and its 0 based rank if so.
	InWaiting bool
	Rank      int64
}

// Mutation is what the engine wants written for UpdateRequest.TicketId.
type Mutation struct {
	// Remove deletes the ticket and all of its room entries. Every other
	// field is ignored.
	Remove bool

	// Persisted record, with TicketTTL.
	Ticket    *Ticket
	TicketTTL time.Duration

	// Score of the ticket in the check-in set.
	CheckInScore int64

	// Sliding expiry of the three room sets.
	RoomTTL time.Duration

	Admit        bool
	Dequeue      bool
	Enqueue      bool
	WaitingScore float64
}

// UpdateFunc decides on a snapshot. A nil mutation writes nothing but the
// sweep. A returned error aborts the mutation; the sweep is still committed.
// The function may run more than once when the store retries.
type UpdateFunc func(ctx context.Context, snapshot *Snapshot) (*Mutation, error)

type Store interface {
	// Update runs one atomic read-decide-write cycle over a room.
	Update(ctx context.Context, req UpdateRequest, fn UpdateFunc) error

	// GetTicket returns nil without error when the ticket doesn't exist.
	GetTicket(ctx context.Context, room, id string) (*Ticket, error)
}

func ProvideStore(cfg *config.Config, redisClient *redis.Client, clock infra.Clock, loggerFactory *infra.LoggerFactory) (Store, error) {
	switch *cfg.Store {
	case config.StoreRedis:
		return NewRedisStore(redisClient, *cfg.TxMaxRetries, loggerFactory), nil
	case config.StoreMemory:
		return NewMemoryStore(clock, loggerFactory), nil
	default:
		return nil, fmt.Errorf("unknown store[%v], want %v or %v", *cfg.Store, config.StoreRedis, config.StoreMemory)
	}
}
