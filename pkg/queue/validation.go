package queue

import (
	"crypto/subtle"
	"fmt"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
)

// Unknown ids and wrong nonces must look the same to a client.
const ticketNotFoundDetail = "The supplied ticket id or nonce was invalid."

func ValidateRoomConfig(room string, roomCfg *config.RoomConfig) error {
	if roomCfg == nil {
		return &Error{
			Kind:   KindRoomNotFound,
			Detail: fmt.Sprintf("The requested room: %v was not found.", room),
		}
	}
	return nil
}

func ValidateWaitingCount(waitingCount int64, roomCfg *config.RoomConfig) error {
	if waitingCount >= roomCfg.QueueMaxSize {
		return &Error{
			Kind:       KindTooBusy,
			Detail:     "The waiting queue has exceeded maximum capacity, try again later.",
			RetryAfter: time.Duration(roomCfg.CheckInFrequency) * time.Second,
		}
	}
	return nil
}

func ValidateStoredTicket(ticket *Ticket) error {
	if ticket == nil {
		return &Error{
			Kind:   KindTicketNotFound,
			Detail: ticketNotFoundDetail,
		}
	}
	return nil
}

func ValidateNonce(ticket *Ticket, nonce string) error {
	if ticket.Nonce == "" || subtle.ConstantTimeCompare([]byte(ticket.Nonce), []byte(nonce)) != 1 {
		return &Error{
			Kind:   KindTicketNotFound,
			Detail: ticketNotFoundDetail,
		}
	}
	return nil
}

func ValidateCheckInTime(ticket *Ticket, now int64) error {
	if now < ticket.CheckInAfter {
		return &Error{
			Kind:       KindTooEarly,
			Detail:     "The check-in request was too early.",
			RetryAfter: time.Duration(ticket.CheckInAfter-now) * time.Second,
		}
	}
	return nil
}
