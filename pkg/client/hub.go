package client

import (
	"strings"
	"sync"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/queue"

	"github.com/emirpasic/gods/maps/hashmap"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "waiting_room_websocket_clients",
	Help: "Websocket check-in streams currently open.",
})

type Hub struct {
	// Registered clients. Key value: room:ticketId -> client. Only touched by Run.
	clients *hashmap.Map

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	shutdown     chan struct{}
	shutdownOnce sync.Once
	stopped      chan struct{}

	queue *queue.Queue
	clock infra.Clock

	// Fires after a check-in wait. Replaced by tests.
	after func(time.Duration) <-chan time.Time

	pingPeriod time.Duration

	logger *zap.SugaredLogger
}

func ProvideHub(cfg *config.Config, queue *queue.Queue, clock infra.Clock, loggerFactory *infra.LoggerFactory) *Hub {
	return &Hub{
		clients: hashmap.New(),

		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),

		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),

		queue:      queue,
		clock:      clock,
		after:      time.After,
		pingPeriod: time.Duration(*cfg.PingIntervalSeconds) * time.Second,

		logger: loggerFactory.Create("Hub").Sugar(),
	}
}

func clientKey(room, id string) string {
	return strings.ToLower(room) + ":" + id
}

// Run owns the client registry until Shutdown.
func (h *Hub) Run() {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.logger.Debugf("register client room[%v] ticketId[%v]", client.request.Room, client.request.Id)

			// One stream per ticket: the newest connection wins.
			if value, ok := h.clients.Get(client.key()); ok {
				value.(*Client).TryClose(websocket.ClosePolicyViolation, "ticket streamed on another connection")
			}
			h.clients.Put(client.key(), client)
			connectedClients.Set(float64(h.clients.Size()))

		case client := <-h.unregister:
			h.logger.Debugf("unregister client room[%v] ticketId[%v]", client.request.Room, client.request.Id)

			value, ok := h.clients.Get(client.key())
			if !ok || value.(*Client) != client {
				continue
			}
			h.clients.Remove(client.key())
			connectedClients.Set(float64(h.clients.Size()))

		case <-h.shutdown:
			h.logger.Infof("closing clients count[%v]", h.clients.Size())
			for _, value := range h.clients.Values() {
				value.(*Client).TryClose(websocket.CloseGoingAway, "server shutting down")
			}
			h.clients.Clear()
			connectedClients.Set(0)
			return
		}
	}
}

// Serve streams the ticket of request over conn. It returns once the client
// is registered; the pumps run on their own goroutines.
func (h *Hub) Serve(conn *websocket.Conn, request queue.TicketRequest) {
	client := newClient(h, conn, request)

	select {
	case <-h.stopped:
		h.reject(conn)
		return
	default:
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		h.reject(conn)
		return
	}
	client.run()
}

func (h *Hub) reject(conn *websocket.Conn) {
	payload := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeWait)); err != nil {
		h.logger.Debugf("write close %v", err)
	}
	conn.Close()
}

// Shutdown asks every client to close and stops Run.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
	<-h.stopped
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}
