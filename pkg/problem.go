package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/queue"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Status   int    `json:"status"`
	Instance string `json:"instance,omitempty"`
}

func kindStatus(kind queue.ErrorKind) int {
	switch kind {
	case queue.KindRoomNotFound, queue.KindTicketNotFound:
		return http.StatusNotFound
	case queue.KindTooEarly:
		return http.StatusPreconditionFailed
	case queue.KindTooBusy, queue.KindDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryAfterSeconds rounds up so clients never come back early.
func retryAfterSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

func newProblem(err error, c echo.Context) (*Problem, time.Duration) {
	var (
		engineErr *queue.Error
		httpErr   *echo.HTTPError
	)
	switch {
	case errors.As(err, &engineErr):
		return &Problem{
			Type:     "urn:waiting-room:error:" + string(engineErr.Kind),
			Title:    string(engineErr.Kind),
			Detail:   engineErr.Detail,
			Status:   kindStatus(engineErr.Kind),
			Instance: engineErr.Instance,
		}, engineErr.RetryAfter

	case errors.Is(err, config.ErrInvalidRoomConfig):
		return &Problem{
			Type:     "urn:waiting-room:error:InvalidRoomConfiguration",
			Title:    "InvalidRoomConfiguration",
			Detail:   err.Error(),
			Status:   http.StatusBadRequest,
			Instance: c.Request().URL.Path,
		}, 0

	case errors.As(err, &httpErr):
		return &Problem{
			Type:     "about:blank",
			Title:    http.StatusText(httpErr.Code),
			Detail:   fmt.Sprint(httpErr.Message),
			Status:   httpErr.Code,
			Instance: c.Request().URL.Path,
		}, 0

	default:
		return &Problem{
			Type:     "about:blank",
			Title:    http.StatusText(http.StatusInternalServerError),
			Status:   http.StatusInternalServerError,
			Instance: c.Request().URL.Path,
		}, 0
	}
}

func newErrorHandler(logger *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		problem, retryAfter := newProblem(err, c)
		if problem.Status >= http.StatusInternalServerError {
			logger.Errorf("%v %v status[%v] %v", c.Request().Method, c.Request().URL.Path, problem.Status, err)
		}

		header := c.Response().Header()
		if retryAfter > 0 {
			header.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(retryAfter), 10))
		}
		header.Set(echo.HeaderContentType, problemContentType)

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			logger.Errorf("write problem %v", err)
		}
	}
}
