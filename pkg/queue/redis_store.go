package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrTxConflict = errors.New("transaction kept conflicting with concurrent writers")

// RedisStore keeps tickets and room sets in redis. Every Update WATCHes the
// room sets (and the ticket), reads them, lets the engine decide and commits
// sweep plus mutation in one MULTI/EXEC.
type RedisStore struct {
	redisClient redis.UniversalClient
	maxRetries  int
	logger      *zap.SugaredLogger
}

func NewRedisStore(redisClient redis.UniversalClient, maxRetries int, loggerFactory *infra.LoggerFactory) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		maxRetries:  maxRetries,
		logger:      loggerFactory.Create("RedisStore").Sugar(),
	}
}

func (s *RedisStore) GetTicket(ctx context.Context, room, id string) (*Ticket, error) {
	raw, err := s.redisClient.Get(ctx, ticketKey(room, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTicket(raw)
}

func (s *RedisStore) Update(ctx context.Context, req UpdateRequest, fn UpdateFunc) error {
	keys := []string{
		roomSetKey(req.Room, participantsSet),
		roomSetKey(req.Room, waitingSet),
		roomSetKey(req.Room, checkInSet),
	}
	if req.TicketId != "" {
		keys = append(keys, ticketKey(req.Room, req.TicketId))
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
			return s.update(ctx, tx, req, fn)
		}, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debugf("transaction conflict room[%v] ticketId[%v] attempt[%v]", req.Room, req.TicketId, attempt)
	}

	s.logger.Warnf("transaction gave up room[%v] ticketId[%v] retries[%v]", req.Room, req.TicketId, s.maxRetries)
	return ErrTxConflict
}

func (s *RedisStore) update(ctx context.Context, tx *redis.Tx, req UpdateRequest, fn UpdateFunc) error {
	view, err := s.read(ctx, tx, req)
	if err != nil {
		return err
	}
	snapshot := view.snapshot(req.TicketId)

	mutation, fnErr := fn(ctx, snapshot)
	if fnErr != nil {
		mutation = nil
	}
	if mutation == nil && len(snapshot.Expired) == 0 {
		return fnErr
	}

	var rawTicket []byte
	if mutation != nil && !mutation.Remove {
		if rawTicket, err = json.Marshal(mutation.Ticket); err != nil {
			return fmt.Errorf("encode ticket[%v]: %w", req.TicketId, err)
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, req, snapshot.Expired, mutation, rawTicket)
		return nil
	})
	if err != nil {
		return err
	}

	if len(snapshot.Expired) > 0 {
		s.logger.Debugf("swept room[%v] expired[%v]", req.Room, snapshot.Expired)
	}
	return fnErr
}

func (s *RedisStore) read(ctx context.Context, tx *redis.Tx, req UpdateRequest) (*roomView, error) {
	participantsKey := roomSetKey(req.Room, participantsSet)
	waitingKey := roomSetKey(req.Room, waitingSet)
	checkInKey := roomSetKey(req.Room, checkInSet)

	var expired []string
	if req.SweepMax > 0 {
		var err error
		expired, err = tx.ZRangeByScore(ctx, checkInKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + strconv.FormatInt(req.Now, 10),
			Count: req.SweepMax,
		}).Result()
		if err != nil {
			return nil, err
		}
	}

	var (
		participantLen *redis.IntCmd
		waitingLen     *redis.IntCmd
		tail           *redis.ZSliceCmd
		ticketCmd      *redis.StringCmd
		ticketScore    *redis.FloatCmd
		ticketRank     *redis.IntCmd

		expiredParticipant = make([]*redis.BoolCmd, len(expired))
		expiredScore       = make([]*redis.FloatCmd, len(expired))
	)
	_, err := tx.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		participantLen = pipe.HLen(ctx, participantsKey)
		waitingLen = pipe.ZCard(ctx, waitingKey)
		tail = pipe.ZRangeWithScores(ctx, waitingKey, -1, -1)
		if req.TicketId != "" {
			ticketCmd = pipe.Get(ctx, ticketKey(req.Room, req.TicketId))
			ticketScore = pipe.ZScore(ctx, waitingKey, req.TicketId)
			ticketRank = pipe.ZRank(ctx, waitingKey, req.TicketId)
		}
		for i, member := range expired {
			expiredParticipant[i] = pipe.HExists(ctx, participantsKey, member)
			expiredScore[i] = pipe.ZScore(ctx, waitingKey, member)
		}
		return nil
	})
	// Missing ticket or waiting entry surface as redis.Nil on their own cmd.
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	view := &roomView{
		ParticipantLen: participantLen.Val(),
		WaitingLen:     waitingLen.Val(),
	}
	if entries := tail.Val(); len(entries) > 0 {
		view.TailScore = entries[0].Score
	}

	if req.TicketId != "" {
		raw, err := ticketCmd.Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, err
		default:
			if view.Ticket, err = decodeTicket(raw); err != nil {
				return nil, err
			}
		}

		if score, err := ticketScore.Result(); err == nil {
			view.TicketWaiting = true
			view.TicketScore = score
			view.TicketRank = ticketRank.Val()
		}
	}

	for i, member := range expired {
		entry := expiredEntry{
			Member:      member,
			Participant: expiredParticipant[i].Val(),
		}
		if score, err := expiredScore[i].Result(); err == nil {
			entry.Waiting = true
			entry.Score = score
		}
		view.Expired = append(view.Expired, entry)
	}
	return view, nil
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, req UpdateRequest, expired []string, mutation *Mutation, rawTicket []byte) {
	participantsKey := roomSetKey(req.Room, participantsSet)
	waitingKey := roomSetKey(req.Room, waitingSet)
	checkInKey := roomSetKey(req.Room, checkInSet)

	if len(expired) > 0 {
		members := make([]interface{}, len(expired))
		for i, member := range expired {
			members[i] = member
		}
		pipe.ZRem(ctx, checkInKey, members...)
		pipe.ZRem(ctx, waitingKey, members...)
		pipe.HDel(ctx, participantsKey, expired...)
	}

	if mutation == nil {
		return
	}

	id := req.TicketId
	if mutation.Remove {
		pipe.Del(ctx, ticketKey(req.Room, id))
		pipe.ZRem(ctx, checkInKey, id)
		pipe.ZRem(ctx, waitingKey, id)
		pipe.HDel(ctx, participantsKey, id)
		return
	}

	if mutation.Dequeue {
		pipe.ZRem(ctx, waitingKey, id)
	}
	if mutation.Enqueue {
		pipe.ZAdd(ctx, waitingKey, redis.Z{Score: mutation.WaitingScore, Member: id})
	}
	if mutation.Admit {
		pipe.HSet(ctx, participantsKey, id, "")
	}

	pipe.Set(ctx, ticketKey(req.Room, id), rawTicket, mutation.TicketTTL)
	pipe.ZAdd(ctx, checkInKey, redis.Z{Score: float64(mutation.CheckInScore), Member: id})
	if mutation.RoomTTL > 0 {
		pipe.Expire(ctx, checkInKey, mutation.RoomTTL)
		pipe.Expire(ctx, participantsKey, mutation.RoomTTL)
		pipe.Expire(ctx, waitingKey, mutation.RoomTTL)
	}
}

func decodeTicket(raw []byte) (*Ticket, error) {
	ticket := &Ticket{}
	if err := json.Unmarshal(raw, ticket); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return ticket, nil
}

// roomView is what a transaction read, before accounting for the sweep.
type roomView struct {
	ParticipantLen int64
	WaitingLen     int64
	TailScore      float64
	Expired        []expiredEntry

	Ticket        *Ticket
	TicketWaiting bool
	TicketScore   float64
	TicketRank    int64
}

type expiredEntry struct {
	Member      string
	Participant bool
	Waiting     bool
	Score       float64
}

// snapshot subtracts the entries the sweep is about to remove, so counts and
// rank match what the room looks like once the transaction commits.
func (v *roomView) snapshot(ticketId string) *Snapshot {
	snapshot := &Snapshot{
		ParticipantCount: v.ParticipantLen,
		WaitingCount:     v.WaitingLen,
		TailScore:        v.TailScore,
		Ticket:           v.Ticket,
		InWaiting:        v.TicketWaiting,
		Rank:             v.TicketRank,
	}

	for _, entry := range v.Expired {
		snapshot.Expired = append(snapshot.Expired, entry.Member)
		if entry.Participant {
			snapshot.ParticipantCount--
		}
		if !entry.Waiting {
			continue
		}
		snapshot.WaitingCount--
		if entry.Member == ticketId {
			continue
		}
		if v.TicketWaiting && (entry.Score < v.TicketScore || (entry.Score == v.TicketScore && entry.Member < ticketId)) {
			snapshot.Rank--
		}
	}

	for _, member := range snapshot.Expired {
		if member == ticketId {
			snapshot.InWaiting = false
			snapshot.Rank = 0
		}
	}
	return snapshot
}
