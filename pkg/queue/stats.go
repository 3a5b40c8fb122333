package queue

const (
	ParticipantCountCounter = "ParticipantCount"
	WaitingCountCounter     = "WaitingCount"
)

type Counter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Value       int64  `json:"value"`
}

// RoomStatistics is a point in time view of a room, taken after the expiry
// sweep.
type RoomStatistics struct {
	Room     string    `json:"room"`
	Counters []Counter `json:"counters"`
}

func newRoomStatistics(room string, snapshot *Snapshot) *RoomStatistics {
	return &RoomStatistics{
		Room: room,
		Counters: []Counter{
			{
				Name:        ParticipantCountCounter,
				Description: "Admitted tickets currently holding a slot in the room.",
				Value:       snapshot.ParticipantCount,
			},
			{
				Name:        WaitingCountCounter,
				Description: "Tickets waiting to be admitted.",
				Value:       snapshot.WaitingCount,
			},
		},
	}
}

// Counter returns the value of the named counter, 0 when absent.
func (s *RoomStatistics) Counter(name string) int64 {
	for _, counter := range s.Counters {
		if counter.Name == name {
			return counter.Value
		}
	}
	return 0
}
