package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/client"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/issuer"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuerConfig = `
issuer:
  kind: internal
admin:
  keys:
    - key: root-key
      rooms: ["*"]
    - key: lobby-key
      rooms: [Lobby]
`

type stubIssuer struct{}

func (stubIssuer) IssueToken(ctx context.Context, room, ticketId string) (string, int64, error) {
	return "token-" + ticketId, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), nil
}

// keyIssuer also publishes keys, like the internal issuer does.
type keyIssuer struct {
	stubIssuer
}

func (keyIssuer) JSONWebKeys(room string) (*issuer.JSONWebKeySet, error) {
	if !strings.EqualFold(room, "lobby") {
		return nil, issuer.ErrUnknownRoom
	}
	return &issuer.JSONWebKeySet{Keys: []issuer.JSONWebKey{{Kty: "RSA", Kid: "kid-1"}}}, nil
}

func (keyIssuer) OidcConfiguration(room string) (*issuer.OidcConfiguration, error) {
	if !strings.EqualFold(room, "lobby") {
		return nil, issuer.ErrUnknownRoom
	}
	return &issuer.OidcConfiguration{Issuer: "https://queue.example.com/Room/Lobby", JwksUri: "https://queue.example.com/Room/Lobby/protocol/openid-connect/jwks"}, nil
}

type testServer struct {
	*Server
	now *time.Time
}

func newTestServer(t *testing.T, tokenIssuer issuer.Issuer) *testServer {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := infra.NewFixedClock(&now)
	loggerFactory := infra.NewNopLoggerFactory()

	port, shutdownSeconds, pingSeconds, debug := 0, 1, 30, false
	cfg := &config.Config{
		ServerPort:             &port,
		ShutdownTimeoutSeconds: &shutdownSeconds,
		PingIntervalSeconds:    &pingSeconds,
		Debug:                  &debug,
	}
	issuerCfg, err := config.ParseIssuerConfig([]byte(testIssuerConfig))
	require.NoError(t, err)

	roomConfigs := config.NewMemoryRoomConfigStore(clock, loggerFactory)
	for _, roomCfg := range []config.RoomConfig{
		{Name: "Lobby", CheckInFrequency: 10, CheckInGrace: 5, RoomIdleTtl: 600, ParticipantLimit: 10, QueueThreshold: 5, QueueMaxSize: 10, RemoveExpiredMax: 100},
		{Name: "Busy", CheckInFrequency: 10, CheckInGrace: 5, RoomIdleTtl: 600, RemoveExpiredMax: 100},
	} {
		_, _, err := roomConfigs.Write(context.Background(), roomCfg, true)
		require.NoError(t, err)
	}

	q := queue.ProvideQueue(queue.NewMemoryStore(clock, loggerFactory), roomConfigs, tokenIssuer, loggerFactory, clock)
	hub := client.ProvideHub(cfg, q, clock, loggerFactory)
	application := ProvideApplication(q, hub, roomConfigs, tokenIssuer, loggerFactory)

	return &testServer{Server: ProvideServer(cfg, application, issuerCfg, loggerFactory), now: &now}
}

func (s *testServer) do(method, target, body, key string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func ticketBody(t *testing.T, ticket *queue.Ticket) string {
	raw, err := json.Marshal(queue.TicketRequest{Id: ticket.Id, Room: ticket.Room, Nonce: ticket.Nonce})
	require.NoError(t, err)
	return string(raw)
}

func ticketQuery(ticket *queue.Ticket) string {
	return url.Values{"room": {ticket.Room}, "id": {ticket.Id}, "nonce": {ticket.Nonce}}.Encode()
}

func TestTicketLifecycle(t *testing.T) {
	s := newTestServer(t, stubIssuer{})

	rec := s.do(http.MethodPost, "/Ticket?room=lobby", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ticket := &queue.Ticket{}
	decode(t, rec, ticket)
	assert.Equal(t, queue.Processed, ticket.Status)
	assert.Equal(t, "Lobby", ticket.Room)
	assert.Equal(t, "token-"+ticket.Id, ticket.Token)

	rec = s.do(http.MethodPut, "/Ticket/check-in", ticketBody(t, ticket), "")
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
	problem := &Problem{}
	decode(t, rec, problem)
	assert.Equal(t, string(queue.KindTooEarly), problem.Title)
	assert.Equal(t, "CheckIn", problem.Instance)

	*s.now = s.now.Add(10 * time.Second)
	rec = s.do(http.MethodPut, "/Ticket/check-in", ticketBody(t, ticket), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkedIn := &queue.Ticket{}
	decode(t, rec, checkedIn)
	assert.NotEqual(t, ticket.Nonce, checkedIn.Nonce)

	// The old nonce is spent.
	rec = s.do(http.MethodGet, "/Ticket?"+ticketQuery(ticket), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/Ticket?"+ticketQuery(checkedIn), "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/Ticket", ticketBody(t, checkedIn), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/Ticket?"+ticketQuery(checkedIn), "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	decode(t, rec, problem)
	assert.Equal(t, string(queue.KindTicketNotFound), problem.Title)
}

func TestRequestTicket_Errors(t *testing.T) {
	s := newTestServer(t, stubIssuer{})

	rec := s.do(http.MethodPost, "/Ticket?room=Cellar", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	problem := &Problem{}
	decode(t, rec, problem)
	assert.Equal(t, string(queue.KindRoomNotFound), problem.Title)
	assert.Equal(t, "RequestTicket", problem.Instance)
	assert.Equal(t, http.StatusNotFound, problem.Status)

	rec = s.do(http.MethodPost, "/Ticket?room=Busy", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	decode(t, rec, problem)
	assert.Equal(t, string(queue.KindTooBusy), problem.Title)
}

func TestAdmin_Authorization(t *testing.T) {
	s := newTestServer(t, stubIssuer{})

	assert.NotEqual(t, http.StatusOK, s.do(http.MethodGet, "/Room", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/Room", "", "guess").Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/Room/Busy", "", "lobby-key").Code)

	rec := s.do(http.MethodGet, "/Room", "", "lobby-key")
	require.Equal(t, http.StatusOK, rec.Code)
	rooms := map[string]*config.RoomConfig{}
	decode(t, rec, &rooms)
	assert.Len(t, rooms, 1)
	assert.Contains(t, rooms, "Lobby")

	rec = s.do(http.MethodGet, "/Room", "", "root-key")
	require.Equal(t, http.StatusOK, rec.Code)
	rooms = map[string]*config.RoomConfig{}
	decode(t, rec, &rooms)
	assert.Len(t, rooms, 2)
}

func TestAdmin_PutRoom(t *testing.T) {
	s := newTestServer(t, stubIssuer{})

	body := `{"checkInFrequency":30,"checkInGrace":10,"roomIdleTtl":600,"participantLimit":50,"queueThreshold":40,"queueMaxSize":500,"removeExpiredMax":20}`
	rec := s.do(http.MethodPut, "/Room/Attic", body, "root-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := &config.RoomConfig{}
	decode(t, rec, created)
	assert.Equal(t, "Attic", created.Name)
	assert.Equal(t, s.now.Unix(), created.LastUpdated)

	rec = s.do(http.MethodPut, "/Room/Attic", body, "root-key")
	assert.Equal(t, http.StatusConflict, rec.Code)

	update := *created
	update.ParticipantLimit = 60
	raw, err := json.Marshal(update)
	require.NoError(t, err)
	rec = s.do(http.MethodPut, "/Room/attic", string(raw), "root-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := &config.RoomConfig{}
	decode(t, rec, updated)
	assert.Greater(t, updated.LastUpdated, created.LastUpdated)

	// Stale version.
	rec = s.do(http.MethodPut, "/Room/Attic", string(raw), "root-key")
	assert.Equal(t, http.StatusConflict, rec.Code)

	invalid := *updated
	invalid.QueueThreshold = invalid.ParticipantLimit + 1
	raw, err = json.Marshal(invalid)
	require.NoError(t, err)
	rec = s.do(http.MethodPut, "/Room/Attic", string(raw), "root-key")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	problem := &Problem{}
	decode(t, rec, problem)
	assert.Equal(t, "InvalidRoomConfiguration", problem.Title)

	rec = s.do(http.MethodPut, "/Room/Attic", `{"name":"Cellar","checkInFrequency":1,"removeExpiredMax":1}`, "root-key")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/Room/ATTIC/exists", "", "root-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", strings.TrimSpace(rec.Body.String()))

	rec = s.do(http.MethodGet, "/Room/Nowhere", "", "root-key")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/Room/Attic", "", "root-key")
	require.Equal(t, http.StatusOK, rec.Code)
	stored := &config.RoomConfig{}
	decode(t, rec, stored)
	assert.Equal(t, int64(60), stored.ParticipantLimit)
}

func TestAdmin_RoomStatistics(t *testing.T) {
	s := newTestServer(t, stubIssuer{})

	for i := 0; i < 7; i++ {
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/Ticket?room=Lobby", "", "").Code)
	}

	rec := s.do(http.MethodGet, "/Room/stats", "", "root-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := []*queue.RoomStatistics{}
	decode(t, rec, &stats)
	require.Len(t, stats, 2)
	assert.Equal(t, "Busy", stats[0].Room)
	assert.Equal(t, "Lobby", stats[1].Room)
	assert.Equal(t, int64(5), stats[1].Counter(queue.ParticipantCountCounter))
	assert.Equal(t, int64(2), stats[1].Counter(queue.WaitingCountCounter))

	rec = s.do(http.MethodGet, "/Room/stats", "", "lobby-key")
	require.Equal(t, http.StatusOK, rec.Code)
	stats = []*queue.RoomStatistics{}
	decode(t, rec, &stats)
	require.Len(t, stats, 1)
	assert.Equal(t, "Lobby", stats[0].Room)
}

func TestSigningKeys(t *testing.T) {
	s := newTestServer(t, keyIssuer{})

	rec := s.do(http.MethodGet, "/Room/Lobby/.well-known/openid-configuration", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	oidc := &issuer.OidcConfiguration{}
	decode(t, rec, oidc)
	assert.Equal(t, "https://queue.example.com/Room/Lobby", oidc.Issuer)

	rec = s.do(http.MethodGet, "/Room/Lobby/protocol/openid-connect/jwks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	keySet := &issuer.JSONWebKeySet{}
	decode(t, rec, keySet)
	require.Len(t, keySet.Keys, 1)
	assert.Equal(t, "kid-1", keySet.Keys[0].Kid)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/Room/Cellar/protocol/openid-connect/jwks", "", "").Code)

	delegating := newTestServer(t, stubIssuer{})
	assert.Equal(t, http.StatusNotFound, delegating.do(http.MethodGet, "/Room/Lobby/protocol/openid-connect/jwks", "", "").Code)
}

func TestDebugAndMetrics(t *testing.T) {
	s := newTestServer(t, stubIssuer{})
	assert.False(t, s.loggerFactory.Debug())

	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/debug", "", "").Code)
	assert.True(t, s.loggerFactory.Debug())
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/debug", "", "").Code)
	assert.False(t, s.loggerFactory.Debug())

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/Ticket?room=Lobby", "", "").Code)
	rec := s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "waiting_room_tickets_requested_total")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(0), retryAfterSeconds(0))
	assert.Equal(t, int64(1), retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, int64(10), retryAfterSeconds(10*time.Second))
}
