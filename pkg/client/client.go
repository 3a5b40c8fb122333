package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/msg"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/queue"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Time to wait for the peer to answer a close frame.
	closeGracePeriod = 5 * time.Second
)

// Client streams one ticket over a websocket. It checks in on its owner's
// behalf whenever the ticket allows and pushes every new ticket to the peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Guards request and left. Held across engine calls so a leave never
	// races a nonce rotation.
	lock    sync.Mutex
	request queue.TicketRequest
	left    bool

	// Buffered channel of outbound messages.
	sendWsMessage chan *msg.WsMessage

	// Close frame payload. The write pump flushes pending messages first.
	close chan []byte

	// Canceled once either pump stops.
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.SugaredLogger
}

func newClient(hub *Hub, conn *websocket.Conn, request queue.TicketRequest) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:           hub,
		conn:          conn,
		request:       request,
		sendWsMessage: make(chan *msg.WsMessage, 16),
		close:         make(chan []byte, 1),
		ctx:           ctx,
		cancel:        cancel,
		logger:        hub.logger.With("room", request.Room, "ticketId", request.Id),
	}
}

func (c *Client) run() {
	go c.writePump()
	go c.readPump()
	go c.checkInPump()
}

// TryClose asks the write pump to close the connection. Only the first call
// counts.
func (c *Client) TryClose(code int, text string) {
	select {
	case c.close <- websocket.FormatCloseMessage(code, text):
	default:
	}
}

func (c *Client) key() string {
	return clientKey(c.request.Room, c.request.Id)
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.unregisterClient(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	// Heartbeat. Close connection if client does not respond to ping for too long.
	pongWait := c.hub.pingPeriod * 5 / 2
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Errorf("read %v", err)
			} else {
				c.logger.Debugf("read closing %v", err)
			}
			return
		}

		wsMessage := &msg.WsMessage{}
		if err := json.Unmarshal(message, wsMessage); err != nil {
			c.logger.Warnf("cannot unmarshal ws message %v", err)
			continue
		}

		switch wsMessage.EventCode {
		case msg.LeaveCode:
			c.leave()
		default:
			c.logger.Warnf("invalid eventCode[%v]", wsMessage.EventCode)
		}
	}
}

func (c *Client) writePump() {
	pingTicker := time.NewTicker(c.hub.pingPeriod)

	defer func() {
		pingTicker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case wsMessage := <-c.sendWsMessage:
			if err := c.write(wsMessage); err != nil {
				c.logger.Errorf("WriteJSON err %v", err)
				return
			}

		case payload := <-c.close:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, payload); err != nil {
				c.logger.Debugf("write close %v", err)
				return
			}

			// The read pump stops once the peer answers.
			select {
			case <-c.ctx.Done():
			case <-time.After(closeGracePeriod):
			}
			return

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debugf("ping err %v", err)
				return
			}
		}
	}
}

func (c *Client) write(wsMessage *msg.WsMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(wsMessage)
}

// flush writes whatever is still queued without blocking.
func (c *Client) flush() {
	for {
		select {
		case wsMessage := <-c.sendWsMessage:
			if err := c.write(wsMessage); err != nil {
				return
			}
		default:
			return
		}
	}
}

// checkInPump pushes the current ticket, then checks in every time the
// ticket allows it until the connection goes away or a check-in fails.
func (c *Client) checkInPump() {
	c.lock.Lock()
	ticket, err := c.hub.queue.GetTicket(c.ctx, c.request)
	c.lock.Unlock()
	if err != nil {
		c.fail(err)
		return
	}
	c.pushTicket(ticket)

	checkInAfter := ticket.CheckInAfter
	for {
		wait := time.Unix(checkInAfter, 0).Sub(c.hub.clock())
		select {
		case <-c.ctx.Done():
			return
		case <-c.hub.after(wait):
		}

		ticket, ok, err := c.checkIn()
		if !ok {
			return
		}
		if err != nil {
			var e *queue.Error
			if errors.As(err, &e) && e.Kind == queue.KindTooEarly {
				checkInAfter = c.hub.clock().Add(e.RetryAfter).Unix()
				continue
			}
			c.fail(err)
			return
		}

		c.pushTicket(ticket)
		checkInAfter = ticket.CheckInAfter
	}
}

// checkIn returns false once the client left or the connection is gone.
func (c *Client) checkIn() (*queue.Ticket, bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.left || c.ctx.Err() != nil {
		return nil, false, nil
	}

	ticket, err := c.hub.queue.CheckIn(c.ctx, c.request)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, true, err
	}
	c.request.Nonce = ticket.Nonce
	return ticket, true, nil
}

func (c *Client) leave() {
	c.lock.Lock()
	if c.left {
		c.lock.Unlock()
		return
	}
	err := c.hub.queue.Leave(c.ctx, c.request)
	if err == nil {
		c.left = true
	}
	c.lock.Unlock()

	if err != nil {
		c.fail(err)
		return
	}
	c.logger.Debug("left over websocket")
	c.TryClose(websocket.CloseNormalClosure, "left")
}

func (c *Client) fail(err error) {
	var e *queue.Error
	if !errors.As(err, &e) {
		e = &queue.Error{Kind: queue.KindOf(err), Detail: err.Error()}
	}

	event := &msg.ErrorServerEvent{
		Kind:              string(e.Kind),
		Detail:            e.Detail,
		RetryAfterSeconds: int64(e.RetryAfter / time.Second),
	}
	if wsMessage, err := msg.NewWsMessage(msg.ErrorCode, event); err == nil {
		c.send(wsMessage)
	} else {
		c.logger.Errorf("cannot build ErrorServerEvent %v", err)
	}

	if e.Kind == queue.KindDependencyFailure {
		c.logger.Warnf("check-in stream failed %v", err)
		c.TryClose(websocket.CloseTryAgainLater, string(e.Kind))
		return
	}
	c.logger.Debugf("check-in stream rejected %v", err)
	c.TryClose(websocket.ClosePolicyViolation, string(e.Kind))
}

func (c *Client) pushTicket(ticket *queue.Ticket) {
	wsMessage, err := msg.NewWsMessage(msg.TicketCode, &msg.TicketServerEvent{
		Id:            ticket.Id,
		Room:          ticket.Room,
		Nonce:         ticket.Nonce,
		CheckInAfter:  ticket.CheckInAfter,
		TokenExpires:  ticket.TokenExpires,
		QueuePosition: ticket.QueuePosition,
		Status:        string(ticket.Status),
		Token:         ticket.Token,
	})
	if err != nil {
		c.logger.Errorf("cannot build TicketServerEvent %v", err)
		return
	}
	c.send(wsMessage)
}

func (c *Client) send(wsMessage *msg.WsMessage) {
	select {
	case c.sendWsMessage <- wsMessage:
	case <-c.ctx.Done():
	}
}
