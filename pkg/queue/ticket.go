package queue

type TicketStatus string

const (
	Queued    TicketStatus = "Queued"
	Processed TicketStatus = "Processed"
	NotFound  TicketStatus = "NotFound"
	TooBusy   TicketStatus = "TooBusy"
	TooEarly  TicketStatus = "TooEarly"
)

// Ticket is a requester's claim on a room. Times are epoch seconds.
type Ticket struct {
	Id   string `json:"id"`
	Room string `json:"room"`

	// Single use secret proving possession of the ticket, rotated on every
	// check-in.
	Nonce string `json:"nonce"`

	CreatedTime int64 `json:"createdTime"`

	// Earliest time the next check-in is accepted.
	CheckInAfter int64 `json:"checkInAfter"`

	TokenExpires int64 `json:"tokenExpires"`

	// 1 based position in the waiting queue, 0 once admitted.
	QueuePosition int64 `json:"queuePosition"`

	Status TicketStatus `json:"status"`

	// Bearer token, only set once Processed.
	Token string `json:"token,omitempty"`
}

// TicketRequest identifies a ticket and proves possession of it.
type TicketRequest struct {
	Id    string `json:"id" query:"id"`
	Room  string `json:"room" query:"room"`
	Nonce string `json:"nonce" query:"nonce"`
}
