package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// statusOf maps a store sentinel to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status and code matching err. Internal
// errors are logged and not echoed.
func writeError(c *gin.Context, logger *zerolog.Logger, op string, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("op", op).Msg("request failed")
		msg = "internal server error"
	}
	c.JSON(status, proto.ErrorResponse{Error: msg, Code: proto.CodeOf(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: msg, Code: proto.CodeInvalidArgument})
}

// callerOf returns the backend caller for the authenticated user.
func callerOf(c *gin.Context, svc *backend.Service) *backend.Caller {
	return svc.As(c.GetString(ContextKeyUserID))
}

// messageQueryOf reads after_ts, after_id and limit.
func messageQueryOf(c *gin.Context) (store.MessageQuery, error) {
	q := store.MessageQuery{ConversationID: c.Param("id"), Limit: proto.MaxPageSize}

	if ts := c.Query("after_ts"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return q, fmt.Errorf("after_ts: %w", err)
		}
		q.After = &store.MessageCursor{CreatedAt: t.UTC(), ID: c.Query("after_id")}
	} else if c.Query("after_id") != "" {
		return q, errors.New("after_id requires after_ts")
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > proto.MaxPageSize {
			return q, fmt.Errorf("limit: invalid value %q", raw)
		}
		if n > 0 {
			q.Limit = n
		}
	}
	return q, nil
}
