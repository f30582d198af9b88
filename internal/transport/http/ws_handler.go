package http

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
)

const writeTimeout = 5 * time.Second

// WSHandlers upgrades HTTP connections and streams a subscription over them.
type WSHandlers struct {
	svc *backend.Service
	log *zerolog.Logger
}

// NewWSHandlers builds the WebSocket handlers.
func NewWSHandlers(svc *backend.Service, logger *zerolog.Logger) *WSHandlers {
	return &WSHandlers{svc: svc, log: logger}
}

// Conversation streams new messages of one conversation.
// GET /ws/conversations/:id
func (h *WSHandlers) Conversation(c *gin.Context) {
	sub, err := callerOf(c, h.svc).SubscribeMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, "subscribe_messages", err)
		return
	}
	stream(c, h.log, sub, proto.EventMessage)
}

// Inbox streams conversation, message and profile changes for the caller.
// GET /ws/inbox
func (h *WSHandlers) Inbox(c *gin.Context) {
	sub, err := callerOf(c, h.svc).SubscribeInbox(c.Request.Context())
	if err != nil {
		writeError(c, h.log, "subscribe_inbox", err)
		return
	}
	stream(c, h.log, sub, proto.EventChange)
}

// stream subscribes first and upgrades second, so authorization failures
// are plain HTTP errors. The server sends a ready frame, then one event frame
// per value. When the subscription is lost the socket is closed with
// StatusTryAgainLater and the client is expected to resubscribe and refetch.
func stream[T any](c *gin.Context, logger *zerolog.Logger, sub realtime.Subscription[T], event string) {
	defer func() { _ = sub.Close() }()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ws accept error")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Nothing is read from clients; this handles control frames and ends
	// ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	if err := write(ctx, conn, proto.NewReady()); err != nil {
		logger.Debug().Err(err).Msg("write ready frame")
		return
	}

	send := func(v T) bool {
		out, err := proto.NewEvent(event, v)
		if err != nil {
			logger.Error().Err(err).Msg("encode ws event")
			_ = conn.Close(websocket.StatusInternalError, "encode error")
			return false
		}
		if err := write(ctx, conn, out); err != nil {
			logger.Debug().Err(err).Msg("write ws event")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-sub.Events():
			if !send(v) {
				return
			}
		case <-sub.Done():
			for drained := false; !drained; {
				select {
				case v := <-sub.Events():
					if !send(v) {
						return
					}
				default:
					drained = true
				}
			}
			logger.Info().Err(sub.Err()).Str("event", event).Msg("subscription lost, closing socket")
			_ = conn.Close(websocket.StatusTryAgainLater, "subscription lost")
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}
