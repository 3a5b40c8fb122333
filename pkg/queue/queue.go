package queue

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/issuer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const nonceBytes = 32

// Queue is the admission engine. It holds no state of its own: every
// operation is one Store transaction over the room.
type Queue struct {
	store           Store
	roomConfigStore config.RoomConfigStore
	issuer          issuer.Issuer

	clock  infra.Clock
	logger *zap.SugaredLogger
}

func ProvideQueue(store Store, roomConfigStore config.RoomConfigStore, tokenIssuer issuer.Issuer, loggerFactory *infra.LoggerFactory, clock infra.Clock) *Queue {
	return &Queue{
		store:           store,
		roomConfigStore: roomConfigStore,
		issuer:          tokenIssuer,
		clock:           clock,
		logger:          loggerFactory.Create("Queue").Sugar(),
	}
}

// RequestTicket issues a new ticket. Below the queue threshold the ticket is
// admitted right away, otherwise it is appended to the waiting queue.
func (q *Queue) RequestTicket(ctx context.Context, room string) (ticket *Ticket, err error) {
	const op = "RequestTicket"
	label := unknownRoomLabel
	defer func() {
		ticketsRequested.WithLabelValues(label, outcome(ticket, err)).Inc()
	}()

	roomCfg, err := q.roomConfig(ctx, op, room)
	if err != nil {
		return nil, err
	}
	label = roomLabel(roomCfg.Name)

	now := q.clock().Unix()
	id := uuid.NewString()

	req := UpdateRequest{Room: roomCfg.Name, TicketId: id, Now: now, SweepMax: roomCfg.RemoveExpiredMax}
	err = q.store.Update(ctx, req, func(ctx context.Context, snapshot *Snapshot) (*Mutation, error) {
		q.observeSweep(req, snapshot)

		if err := ValidateWaitingCount(snapshot.WaitingCount, roomCfg); err != nil {
			return nil, err
		}

		ticket = &Ticket{
			Id:          id,
			Room:        roomCfg.Name,
			CreatedTime: now,
		}
		mutation := &Mutation{}
		checkInAfter := now + roomCfg.CheckInFrequency

		if snapshot.ParticipantCount < roomCfg.QueueThreshold {
			ticket.Status = Processed
			mutation.Admit = true
		} else {
			ticket.Status = Queued
			ticket.QueuePosition = snapshot.WaitingCount + 1
			mutation.Enqueue = true
			mutation.WaitingScore = snapshot.TailScore + 1

			// The new ticket is counted on purpose: only a room with slack
			// beyond it skips the wait. Counting waiting tickets alone would
			// let the first queued ticket of a room one short of its limit
			// check in at once.
			if snapshot.ParticipantCount+ticket.QueuePosition < roomCfg.ParticipantLimit {
				checkInAfter = now
			}
		}

		if err := q.stamp(ctx, roomCfg, ticket, mutation, now, checkInAfter); err != nil {
			return nil, err
		}
		return mutation, nil
	})
	if err != nil {
		q.logger.Infof("request ticket failed room[%v] %v", room, err)
		return nil, at(op, dependencyFailure(op, err))
	}

	q.logger.Debugf("ticket issued room[%v] ticketId[%v] status[%v] position[%v]", ticket.Room, ticket.Id, ticket.Status, ticket.QueuePosition)
	return ticket, nil
}

// CheckIn refreshes a ticket, rotates its nonce and admits it once there is
// room for everyone ahead of it and itself.
func (q *Queue) CheckIn(ctx context.Context, request TicketRequest) (ticket *Ticket, err error) {
	const op = "CheckIn"
	label := unknownRoomLabel
	defer func() {
		checkIns.WithLabelValues(label, outcome(ticket, err)).Inc()
	}()

	now := q.clock().Unix()

	// Fail invalid requests before touching the room.
	stored, err := q.store.GetTicket(ctx, request.Room, request.Id)
	if err != nil {
		return nil, dependencyFailure(op, err)
	}
	if err := validateCheckIn(stored, request.Nonce, now); err != nil {
		return nil, at(op, err)
	}

	roomCfg, err := q.roomConfig(ctx, op, request.Room)
	if err != nil {
		return nil, err
	}
	label = roomLabel(roomCfg.Name)

	var admitted bool
	req := UpdateRequest{Room: request.Room, TicketId: request.Id, Now: now, SweepMax: roomCfg.RemoveExpiredMax}
	err = q.store.Update(ctx, req, func(ctx context.Context, snapshot *Snapshot) (*Mutation, error) {
		q.observeSweep(req, snapshot)
		admitted = false

		// Again inside the transaction: a concurrent check-in may have
		// rotated the nonce since the eager read.
		if err := validateCheckIn(snapshot.Ticket, request.Nonce, now); err != nil {
			return nil, err
		}

		current := *snapshot.Ticket
		ticket = &current
		mutation := &Mutation{}

		switch ticket.Status {
		case Queued:
			rank := snapshot.Rank
			if !snapshot.InWaiting {
				// Swept while the record survived: back to the tail.
				rank = snapshot.WaitingCount
				q.logger.Infof("requeue ticket without waiting entry room[%v] ticketId[%v]", request.Room, request.Id)
			}

			if snapshot.ParticipantCount+rank < roomCfg.ParticipantLimit {
				ticket.Status = Processed
				ticket.QueuePosition = 0
				mutation.Admit = true
				mutation.Dequeue = snapshot.InWaiting
				admitted = true
			} else {
				ticket.QueuePosition = rank + 1
				if !snapshot.InWaiting {
					mutation.Enqueue = true
					mutation.WaitingScore = snapshot.TailScore + 1
				}
			}

		case Processed:
			// Re-assert the slot in case the sweep took it.
			mutation.Admit = true
		}

		if err := q.stamp(ctx, roomCfg, ticket, mutation, now, now+roomCfg.CheckInFrequency); err != nil {
			return nil, err
		}
		return mutation, nil
	})
	if err != nil {
		return nil, at(op, dependencyFailure(op, err))
	}

	if admitted {
		admissionWait.WithLabelValues(label).Observe(float64(now - ticket.CreatedTime))
		q.logger.Infof("ticket admitted room[%v] ticketId[%v] waited[%vs]", request.Room, request.Id, now-ticket.CreatedTime)
	}
	return ticket, nil
}

// GetTicket returns the stored ticket without changing anything.
func (q *Queue) GetTicket(ctx context.Context, request TicketRequest) (*Ticket, error) {
	const op = "GetTicket"

	ticket, err := q.store.GetTicket(ctx, request.Room, request.Id)
	if err != nil {
		return nil, dependencyFailure(op, err)
	}
	if err := ValidateStoredTicket(ticket); err != nil {
		return nil, at(op, err)
	}
	if err := ValidateNonce(ticket, request.Nonce); err != nil {
		return nil, at(op, err)
	}
	return ticket, nil
}

// Leave gives up a ticket and frees whatever slot it held.
func (q *Queue) Leave(ctx context.Context, request TicketRequest) error {
	const op = "Leave"

	roomCfg, err := q.roomConfig(ctx, op, request.Room)
	if err != nil {
		return err
	}

	req := UpdateRequest{Room: request.Room, TicketId: request.Id, Now: q.clock().Unix(), SweepMax: roomCfg.RemoveExpiredMax}
	err = q.store.Update(ctx, req, func(ctx context.Context, snapshot *Snapshot) (*Mutation, error) {
		q.observeSweep(req, snapshot)

		if err := ValidateStoredTicket(snapshot.Ticket); err != nil {
			return nil, err
		}
		if err := ValidateNonce(snapshot.Ticket, request.Nonce); err != nil {
			return nil, err
		}
		return &Mutation{Remove: true}, nil
	})
	if err != nil {
		return at(op, dependencyFailure(op, err))
	}

	q.logger.Debugf("ticket left room[%v] ticketId[%v]", request.Room, request.Id)
	return nil
}

// QueryStatistics reports the room counters after sweeping.
func (q *Queue) QueryStatistics(ctx context.Context, room string) (*RoomStatistics, error) {
	const op = "QueryStatistics"

	roomCfg, err := q.roomConfig(ctx, op, room)
	if err != nil {
		return nil, err
	}

	var stats *RoomStatistics
	req := UpdateRequest{Room: roomCfg.Name, Now: q.clock().Unix(), SweepMax: roomCfg.RemoveExpiredMax}
	err = q.store.Update(ctx, req, func(ctx context.Context, snapshot *Snapshot) (*Mutation, error) {
		q.observeSweep(req, snapshot)
		stats = newRoomStatistics(roomCfg.Name, snapshot)
		return nil, nil
	})
	if err != nil {
		return nil, dependencyFailure(op, err)
	}
	return stats, nil
}

func (q *Queue) roomConfig(ctx context.Context, op, room string) (*config.RoomConfig, error) {
	roomCfg, err := q.roomConfigStore.Read(ctx, room)
	if err != nil {
		return nil, dependencyFailure(op, err)
	}
	if err := ValidateRoomConfig(room, roomCfg); err != nil {
		return nil, at(op, err)
	}
	return roomCfg, nil
}

// stamp does the bookkeeping shared by every successful write: schedule the
// next check-in, rotate the nonce, refresh the token when it would expire
// before the next check-in, and set the expiries.
func (q *Queue) stamp(ctx context.Context, roomCfg *config.RoomConfig, ticket *Ticket, mutation *Mutation, now, checkInAfter int64) error {
	nonce, err := newNonce()
	if err != nil {
		return err
	}
	ticket.Nonce = nonce
	ticket.CheckInAfter = checkInAfter

	if ticket.Status == Processed && checkInAfter >= ticket.TokenExpires {
		token, expires, err := q.issuer.IssueToken(ctx, ticket.Room, ticket.Id)
		if err != nil {
			q.logger.Errorf("issue token room[%v] ticketId[%v] %v", ticket.Room, ticket.Id, err)
			return &Error{
				Kind:   KindDependencyFailure,
				Detail: "The token issuer is unavailable, try again later.",
				Err:    err,
			}
		}
		ticket.Token = token
		ticket.TokenExpires = expires
	}

	mutation.Ticket = ticket
	mutation.TicketTTL = time.Duration(roomCfg.CheckInFrequency+roomCfg.CheckInGrace) * time.Second
	mutation.CheckInScore = checkInAfter + roomCfg.CheckInGrace
	mutation.RoomTTL = time.Duration(roomCfg.RoomIdleTtl) * time.Second
	return nil
}

// Counts stay approximate when the sweep hits its cap: the leftovers are
// removed by the following requests.
func (q *Queue) observeSweep(req UpdateRequest, snapshot *Snapshot) {
	if len(snapshot.Expired) == 0 {
		return
	}
	sweptEntries.WithLabelValues(roomLabel(req.Room)).Add(float64(len(snapshot.Expired)))
	if int64(len(snapshot.Expired)) >= req.SweepMax {
		q.logger.Debugf("sweep reached removeExpiredMax[%v] room[%v]", req.SweepMax, req.Room)
	}
}

func validateCheckIn(ticket *Ticket, nonce string, now int64) error {
	if err := ValidateStoredTicket(ticket); err != nil {
		return err
	}
	if err := ValidateNonce(ticket, nonce); err != nil {
		return err
	}
	return ValidateCheckInTime(ticket, now)
}

func newNonce() (string, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
