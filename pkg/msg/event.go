package msg

type EventCode uint

const (
	// Server pushes the current ticket, after every check-in.
	TicketCode EventCode = 1000

	// Server reports why the stream is about to close.
	ErrorCode EventCode = 1001

	// Client gives up its ticket. No event data.
	LeaveCode EventCode = 1002
)

type TicketServerEvent struct {
	Id            string `json:"id"`
	Room          string `json:"room"`
	Nonce         string `json:"nonce"`
	CheckInAfter  int64  `json:"checkInAfter"`
	TokenExpires  int64  `json:"tokenExpires"`
	QueuePosition int64  `json:"queuePosition"`
	Status        string `json:"status"`
	Token         string `json:"token,omitempty"`
}

type ErrorServerEvent struct {
	Kind              string `json:"kind"`
	Detail            string `json:"detail"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}
