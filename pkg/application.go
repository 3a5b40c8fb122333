package main

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/client"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/issuer"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/queue"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Admin rooms granted by the bearer key, set by the key auth middleware.
const adminRoomsKey = "adminRooms"

// Concurrent room reads of a single statistics request.
const statsConcurrency = 8

type Application struct {
	queue           *queue.Queue
	hub             *client.Hub
	roomConfigStore config.RoomConfigStore
	issuer          issuer.Issuer
	wsUpgrader      *websocket.Upgrader
	logger          *zap.SugaredLogger
}

func ProvideApplication(
	q *queue.Queue,
	hub *client.Hub,
	roomConfigStore config.RoomConfigStore,
	tokenIssuer issuer.Issuer,
	loggerFactory *infra.LoggerFactory,
) *Application {
	return &Application{
		queue:           q,
		hub:             hub,
		roomConfigStore: roomConfigStore,
		issuer:          tokenIssuer,
		wsUpgrader:      &websocket.Upgrader{},
		logger:          loggerFactory.Create("Application").Sugar(),
	}
}

func (a *Application) Run() {
	go a.hub.Run()
}

func (a *Application) Shutdown() {
	a.hub.Shutdown()
}

// Reload rereads the signing certificates when the issuer supports it.
func (a *Application) Reload() error {
	reloader, ok := a.issuer.(issuer.Reloader)
	if !ok {
		a.logger.Info("issuer has nothing to reload")
		return nil
	}
	return reloader.Reload()
}

func (a *Application) RequestTicket(c echo.Context) error {
	ticket, err := a.queue.RequestTicket(c.Request().Context(), c.QueryParam("room"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticket)
}

func (a *Application) CheckIn(c echo.Context) error {
	request, err := bindTicketRequest(c)
	if err != nil {
		return err
	}
	ticket, err := a.queue.CheckIn(c.Request().Context(), request)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticket)
}

func (a *Application) GetTicket(c echo.Context) error {
	request, err := bindTicketRequest(c)
	if err != nil {
		return err
	}
	ticket, err := a.queue.GetTicket(c.Request().Context(), request)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticket)
}

func (a *Application) Leave(c echo.Context) error {
	request, err := bindTicketRequest(c)
	if err != nil {
		return err
	}
	if err := a.queue.Leave(c.Request().Context(), request); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (a *Application) HandleWs(c echo.Context) error {
	request, err := bindTicketRequest(c)
	if err != nil {
		return err
	}

	conn, err := a.wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already replied to the peer.
		a.logger.Debugf("websocket upgrade room[%v] ticketId[%v] %v", request.Room, request.Id, err)
		return nil
	}
	a.hub.Serve(conn, request)
	return nil
}

func (a *Application) OidcConfiguration(c echo.Context) error {
	keySource, err := a.keySource()
	if err != nil {
		return err
	}
	oidc, err := keySource.OidcConfiguration(c.Param("room"))
	if err != nil {
		return issuerError(err)
	}
	return c.JSON(http.StatusOK, oidc)
}

func (a *Application) JSONWebKeys(c echo.Context) error {
	keySource, err := a.keySource()
	if err != nil {
		return err
	}
	keySet, err := keySource.JSONWebKeys(c.Param("room"))
	if err != nil {
		return issuerError(err)
	}
	return c.JSON(http.StatusOK, keySet)
}

func (a *Application) ListRooms(c echo.Context) error {
	rooms, err := a.roomConfigStore.List(c.Request().Context(), adminRooms(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rooms)
}

// RoomStatistics reads every accessible room concurrently. Results are
// ordered by room name.
func (a *Application) RoomStatistics(c echo.Context) error {
	ctx := c.Request().Context()

	rooms, err := a.roomConfigStore.List(ctx, adminRooms(c))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*queue.RoomStatistics, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			stats, err := a.queue.QueryStatistics(gctx, name)
			if err != nil {
				return err
			}
			results[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

func (a *Application) GetRoom(c echo.Context) error {
	room, err := accessibleRoom(c)
	if err != nil {
		return err
	}
	roomCfg, err := a.roomConfigStore.Read(c.Request().Context(), room)
	if err != nil {
		return err
	}
	if roomCfg == nil {
		return echo.NewHTTPError(http.StatusNotFound, "The room does not exist.")
	}
	return c.JSON(http.StatusOK, roomCfg)
}

func (a *Application) RoomExists(c echo.Context) error {
	room, err := accessibleRoom(c)
	if err != nil {
		return err
	}
	exists, err := a.roomConfigStore.Exists(c.Request().Context(), room)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exists)
}

// PutRoom creates the room when lastUpdated is 0 and otherwise updates it,
// provided lastUpdated still matches the stored version.
func (a *Application) PutRoom(c echo.Context) error {
	room, err := accessibleRoom(c)
	if err != nil {
		return err
	}

	roomCfg := config.RoomConfig{}
	if err := c.Bind(&roomCfg); err != nil {
		return err
	}
	if roomCfg.Name == "" {
		roomCfg.Name = room
	} else if !strings.EqualFold(roomCfg.Name, room) {
		return echo.NewHTTPError(http.StatusBadRequest, "The room name does not match the path.")
	}

	create := roomCfg.LastUpdated == 0
	committed, stored, err := a.roomConfigStore.Write(c.Request().Context(), roomCfg, create)
	if err != nil {
		return err
	}
	if !committed {
		if create {
			return echo.NewHTTPError(http.StatusConflict, "The room already exists.")
		}
		return echo.NewHTTPError(http.StatusConflict, "The room changed since lastUpdated, reload it and retry.")
	}

	a.logger.Infof("room configured room[%v] lastUpdated[%v] created[%v]", stored.Name, stored.LastUpdated, create)
	return c.JSON(http.StatusOK, stored)
}

func (a *Application) keySource() (issuer.KeySource, error) {
	keySource, ok := a.issuer.(issuer.KeySource)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Tokens of this server are not signed locally.")
	}
	return keySource, nil
}

func issuerError(err error) error {
	if errors.Is(err, issuer.ErrUnknownRoom) {
		return echo.NewHTTPError(http.StatusNotFound, "The room has no signing configuration.")
	}
	return err
}

func bindTicketRequest(c echo.Context) (queue.TicketRequest, error) {
	request := queue.TicketRequest{}
	if err := c.Bind(&request); err != nil {
		return request, err
	}
	return request, nil
}

func adminRooms(c echo.Context) []string {
	rooms, _ := c.Get(adminRoomsKey).([]string)
	return rooms
}

func accessibleRoom(c echo.Context) (string, error) {
	room := c.Param("room")
	if !config.CanAccess(adminRooms(c), room) {
		return "", echo.NewHTTPError(http.StatusForbidden, "The key has no access to this room.")
	}
	return room, nil
}
