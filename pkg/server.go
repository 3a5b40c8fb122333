package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	application   *Application
	echo          *echo.Echo
	server        *http.Server
	port          int
	shutdownWait  time.Duration
	loggerFactory *infra.LoggerFactory
	logger        *zap.SugaredLogger
}

func ProvideServer(cfg *config.Config, application *Application, issuerConfig *config.IssuerConfig, loggerFactory *infra.LoggerFactory) *Server {
	logger := loggerFactory.Create("Server").Sugar()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogRequestID: true,
		LogStatus:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Infof("%v %v id[%v] status[%v] latency[%vms]", v.Method, v.URI, v.RequestID, v.Status, v.Latency.Milliseconds())
			return nil
		},
	}))

	setDebug := func(enabled bool) {
		loggerFactory.SetDebug(enabled)
		if enabled {
			e.Logger.SetLevel(log.DEBUG)
		} else {
			e.Logger.SetLevel(log.WARN)
		}
	}
	setDebug(loggerFactory.Debug())

	e.PUT("/debug", func(c echo.Context) error {
		setDebug(true)
		logger.Info("debug logging enabled")
		return c.NoContent(http.StatusOK)
	})

	e.DELETE("/debug", func(c echo.Context) error {
		setDebug(false)
		logger.Info("debug logging disabled")
		return c.NoContent(http.StatusOK)
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/Ticket", application.RequestTicket)
	e.GET("/Ticket", application.GetTicket)
	e.DELETE("/Ticket", application.Leave)
	e.PUT("/Ticket/check-in", application.CheckIn)
	e.GET("/Ticket/ws", application.HandleWs)

	e.GET("/Room/:room/.well-known/openid-configuration", application.OidcConfiguration)
	e.GET("/Room/:room/protocol/openid-connect/jwks", application.JSONWebKeys)

	adminAuth := middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Validator: func(key string, c echo.Context) (bool, error) {
			rooms, ok := issuerConfig.AdminRooms(key)
			if ok {
				c.Set(adminRoomsKey, rooms)
			}
			return ok, nil
		},
	})
	e.GET("/Room", application.ListRooms, adminAuth)
	e.GET("/Room/stats", application.RoomStatistics, adminAuth)
	e.GET("/Room/:room", application.GetRoom, adminAuth)
	e.GET("/Room/:room/exists", application.RoomExists, adminAuth)
	e.PUT("/Room/:room", application.PutRoom, adminAuth)

	return &Server{
		application: application,
		echo:        e,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%v", *cfg.ServerPort),
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		},
		port:          *cfg.ServerPort,
		shutdownWait:  time.Duration(*cfg.ShutdownTimeoutSeconds) * time.Second,
		loggerFactory: loggerFactory,
		logger:        logger,
	}
}

// Run serves until SIGINT or SIGTERM. SIGHUP reloads the issuer.
func (s *Server) Run() error {
	s.logger.Infof("server running application")
	s.application.Run()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Infof("server starts listening on port[%v]", s.port)
		serveErr <- s.server.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-serveErr:
			s.application.Shutdown()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if err := s.application.Reload(); err != nil {
					s.logger.Errorf("reload issuer %v", err)
				} else {
					s.logger.Info("issuer reloaded")
				}
				continue
			}
			s.logger.Infof("received signal[%v], shutting down", sig)
			return s.Shutdown()
		}
	}
}

// Shutdown closes the websocket streams, then waits for in-flight requests.
func (s *Server) Shutdown() error {
	defer s.loggerFactory.Sync()

	s.application.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownWait)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
