package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRoomConfig = errors.New("invalid room configuration")
)

// AllRooms in an access set grants every room.
const AllRooms = "*"

// RoomConfig holds the tunables of one room. Durations are in seconds.
type RoomConfig struct {
	Name string `redis:"name" json:"name"`

	// Clients are told to check in again after this many seconds.
	CheckInFrequency int64 `redis:"checkInFrequency" json:"checkInFrequency"`

	// Extra seconds a client may be late before its entry is swept.
	CheckInGrace int64 `redis:"checkInGrace" json:"checkInGrace"`

	// Room sets expire after this many seconds without any check-in.
	RoomIdleTtl int64 `redis:"roomIdleTtl" json:"roomIdleTtl"`

	// Hard cap of admitted participants.
	ParticipantLimit int64 `redis:"participantLimit" json:"participantLimit"`

	// Below this many participants new tickets skip the queue.
	QueueThreshold int64 `redis:"queueThreshold" json:"queueThreshold"`

	// Ticket requests are rejected once this many tickets wait.
	QueueMaxSize int64 `redis:"queueMaxSize" json:"queueMaxSize"`

	// Upper bound of stale entries swept by a single request.
	RemoveExpiredMax int64 `redis:"removeExpiredMax" json:"removeExpiredMax"`

	// Version stamp for optimistic concurrency. Zero means never written.
	LastUpdated int64 `redis:"lastUpdated" json:"lastUpdated"`
}

func (c *RoomConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRoomConfig)
	}
	if c.CheckInFrequency < 1 {
		return fmt.Errorf("%w: checkInFrequency must be at least 1", ErrInvalidRoomConfig)
	}
	if c.RemoveExpiredMax < 1 {
		return fmt.Errorf("%w: removeExpiredMax must be at least 1", ErrInvalidRoomConfig)
	}
	if c.CheckInGrace < 0 || c.RoomIdleTtl < 0 || c.ParticipantLimit < 0 || c.QueueThreshold < 0 || c.QueueMaxSize < 0 {
		return fmt.Errorf("%w: values must not be negative", ErrInvalidRoomConfig)
	}
	if c.QueueThreshold > c.ParticipantLimit {
		return fmt.Errorf("%w: queueThreshold[%v] exceeds participantLimit[%v]", ErrInvalidRoomConfig, c.QueueThreshold, c.ParticipantLimit)
	}
	return nil
}

type RoomConfigStore interface {
	// Read returns nil without error when the room has no configuration.
	Read(ctx context.Context, room string) (*RoomConfig, error)

	// Write stores cfg if create is set and the room does not exist yet, or
	// if create is unset and the stored LastUpdated equals cfg.LastUpdated.
	// A lost race reports committed=false and no error.
	Write(ctx context.Context, cfg RoomConfig, create bool) (bool, *RoomConfig, error)

	Exists(ctx context.Context, room string) (bool, error)

	// List returns the configuration of every indexed room in access, keyed
	// by room name.
	List(ctx context.Context, access []string) (map[string]*RoomConfig, error)
}

// nextVersion keeps LastUpdated strictly increasing even when two writes land
// in the same second or the clock steps back.
func nextVersion(now, previous int64) int64 {
	if now > previous {
		return now
	}
	return previous + 1
}

func allowedRooms(access []string) (all bool, allowed map[string]struct{}) {
	allowed = make(map[string]struct{}, len(access))
	for _, room := range access {
		if room == AllRooms {
			return true, nil
		}
		allowed[strings.ToLower(room)] = struct{}{}
	}
	return false, allowed
}

// CanAccess reports whether access grants room.
func CanAccess(access []string, room string) bool {
	all, allowed := allowedRooms(access)
	if all {
		return true
	}
	_, ok := allowed[strings.ToLower(room)]
	return ok
}
