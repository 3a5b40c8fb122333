package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/emirpasic/gods/maps/hashmap"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/emirpasic/gods/utils"
	"go.uber.org/zap"
)

// MemoryStore emulates the redis layout in process for a single node. One
// mutex serializes every Update, which gives the same atomicity as a
// committed MULTI/EXEC. Key expiry follows the injected clock.
type MemoryStore struct {
	// Key value: ticketKey -> *memoryTicket
	tickets *hashmap.Map

	// Ticket keys with a TTL, scored by expiry in unix millis. Lets expired
	// tickets go away without anyone reading them again.
	expiries *sortedSet

	// Key value: roomTag -> *memoryRoom
	rooms *hashmap.Map

	lock   sync.Mutex
	clock  infra.Clock
	logger *zap.SugaredLogger
}

type memoryTicket struct {
	raw       []byte
	expiresAt time.Time
}

type memoryRoom struct {
	participants *hashset.Set
	waiting      *sortedSet
	checkIn      *sortedSet

	// Zero means no expiry.
	expiresAt time.Time
}

func newMemoryRoom() *memoryRoom {
	return &memoryRoom{
		participants: hashset.New(),
		waiting:      newSortedSet(),
		checkIn:      newSortedSet(),
	}
}

func (r *memoryRoom) remove(member string) {
	r.participants.Remove(member)
	r.waiting.remove(member)
	r.checkIn.remove(member)
}

func NewMemoryStore(clock infra.Clock, loggerFactory *infra.LoggerFactory) *MemoryStore {
	return &MemoryStore{
		tickets:  hashmap.New(),
		expiries: newSortedSet(),
		rooms:    hashmap.New(),
		clock:    clock,
		logger:   loggerFactory.Create("MemoryStore").Sugar(),
	}
}

func (s *MemoryStore) GetTicket(ctx context.Context, room, id string) (*Ticket, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock()
	s.purgeExpired(now)
	return s.ticket(ticketKey(room, id), now)
}

func (s *MemoryStore) Update(ctx context.Context, req UpdateRequest, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock()
	s.purgeExpired(now)
	room := s.room(req.Room, now)

	expired := room.checkIn.rangeByScore(float64(req.Now), req.SweepMax)
	for _, member := range expired {
		room.remove(member)
	}
	if len(expired) > 0 {
		s.logger.Debugf("swept room[%v] expired[%v]", req.Room, expired)
	}

	snapshot := &Snapshot{
		ParticipantCount: int64(room.participants.Size()),
		WaitingCount:     room.waiting.size(),
		TailScore:        room.waiting.maxScore(),
		Expired:          expired,
	}
	if req.TicketId != "" {
		ticket, err := s.ticket(ticketKey(req.Room, req.TicketId), now)
		if err != nil {
			return err
		}
		snapshot.Ticket = ticket
		snapshot.Rank, snapshot.InWaiting = room.waiting.rank(req.TicketId)
	}

	mutation, err := fn(ctx, snapshot)
	if err != nil || mutation == nil {
		return err
	}
	return s.apply(room, req, mutation, now)
}

func (s *MemoryStore) apply(room *memoryRoom, req UpdateRequest, mutation *Mutation, now time.Time) error {
	id := req.TicketId
	key := ticketKey(req.Room, id)

	if mutation.Remove {
		s.removeTicket(key)
		room.remove(id)
		return nil
	}

	raw, err := json.Marshal(mutation.Ticket)
	if err != nil {
		return fmt.Errorf("encode ticket[%v]: %w", id, err)
	}

	if mutation.Dequeue {
		room.waiting.remove(id)
	}
	if mutation.Enqueue {
		room.waiting.add(id, mutation.WaitingScore)
	}
	if mutation.Admit {
		room.participants.Add(id)
	}

	stored := &memoryTicket{raw: raw}
	if mutation.TicketTTL > 0 {
		stored.expiresAt = now.Add(mutation.TicketTTL)
	}
	s.putTicket(key, stored)

	room.checkIn.add(id, float64(mutation.CheckInScore))
	if mutation.RoomTTL > 0 {
		room.expiresAt = now.Add(mutation.RoomTTL)
	}
	return nil
}

func (s *MemoryStore) ticket(key string, now time.Time) (*Ticket, error) {
	value, ok := s.tickets.Get(key)
	if !ok {
		return nil, nil
	}
	stored := value.(*memoryTicket)
	if !stored.expiresAt.IsZero() && !now.Before(stored.expiresAt) {
		s.removeTicket(key)
		return nil, nil
	}
	return decodeTicket(stored.raw)
}

func (s *MemoryStore) putTicket(key string, stored *memoryTicket) {
	s.tickets.Put(key, stored)
	if stored.expiresAt.IsZero() {
		s.expiries.remove(key)
		return
	}
	s.expiries.add(key, float64(stored.expiresAt.UnixMilli()))
}

func (s *MemoryStore) removeTicket(key string) {
	s.tickets.Remove(key)
	s.expiries.remove(key)
}

// purgeExpired drops every ticket whose TTL ran out by now, whether or not
// its room still references it.
func (s *MemoryStore) purgeExpired(now time.Time) {
	// Scores are whole millis, so below now+1 means expired at or before now.
	expired := s.expiries.rangeByScore(float64(now.UnixMilli()+1), s.expiries.size())
	for _, key := range expired {
		s.removeTicket(key)
	}
}

func (s *MemoryStore) room(name string, now time.Time) *memoryRoom {
	tag := roomTag(name)
	if value, ok := s.rooms.Get(tag); ok {
		room := value.(*memoryRoom)
		if room.expiresAt.IsZero() || now.Before(room.expiresAt) {
			return room
		}
		s.logger.Debugf("room idle expired room[%v]", name)
	}
	room := newMemoryRoom()
	s.rooms.Put(tag, room)
	return room
}

type scoredMember struct {
	score  float64
	member string
}

// Orders like a redis sorted set: by score, then lexically by member.
func scoredMemberComparator(a, b interface{}) int {
	x, y := a.(scoredMember), b.(scoredMember)
	if c := utils.Float64Comparator(x.score, y.score); c != 0 {
		return c
	}
	return utils.StringComparator(x.member, y.member)
}

type sortedSet struct {
	// Key value: scoredMember -> nil
	entries *treemap.Map

	// Key value: member -> score
	scores *hashmap.Map
}

func newSortedSet() *sortedSet {
	return &sortedSet{
		entries: treemap.NewWith(scoredMemberComparator),
		scores:  hashmap.New(),
	}
}

func (z *sortedSet) add(member string, score float64) {
	z.remove(member)
	z.entries.Put(scoredMember{score: score, member: member}, nil)
	z.scores.Put(member, score)
}

func (z *sortedSet) remove(member string) {
	score, ok := z.scores.Get(member)
	if !ok {
		return
	}
	z.entries.Remove(scoredMember{score: score.(float64), member: member})
	z.scores.Remove(member)
}

func (z *sortedSet) size() int64 {
	return int64(z.scores.Size())
}

func (z *sortedSet) maxScore() float64 {
	key, _ := z.entries.Max()
	if key == nil {
		return 0
	}
	return key.(scoredMember).score
}

// rank returns the 0 based position of member.
func (z *sortedSet) rank(member string) (int64, bool) {
	if _, ok := z.scores.Get(member); !ok {
		return 0, false
	}
	var rank int64
	it := z.entries.Iterator()
	for it.Begin(); it.Next(); {
		if it.Key().(scoredMember).member == member {
			return rank, true
		}
		rank++
	}
	return 0, false
}

// rangeByScore returns up to count members scored below max, lowest first.
func (z *sortedSet) rangeByScore(max float64, count int64) []string {
	var members []string
	it := z.entries.Iterator()
	for it.Begin(); it.Next() && int64(len(members)) < count; {
		entry := it.Key().(scoredMember)
		if entry.score >= max {
			break
		}
		members = append(members, entry.member)
	}
	return members
}
