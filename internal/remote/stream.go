package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

const readLimit = 1 << 20

// SubscribeMessages streams new messages of a conversation.
func (c *Client) SubscribeMessages(ctx context.Context, conversationID string) (realtime.Subscription[*store.Message], error) {
	return subscribe[*store.Message](ctx, c, "/ws/conversations/"+url.PathEscape(conversationID), proto.EventMessage)
}

// SubscribeInbox streams the caller's conversation, message and profile changes.
func (c *Client) SubscribeInbox(ctx context.Context) (realtime.Subscription[*store.Change], error) {
	return subscribe[*store.Change](ctx, c, "/ws/inbox", proto.EventChange)
}

// subscribe dials path and returns once the server has confirmed the
// subscription with its ready frame. Events published after that point are
// delivered. The feed fails with realtime.ErrDisconnected when the socket is
// lost and with realtime.ErrSlowConsumer when its buffer overflows.
func subscribe[T any](ctx context.Context, c *Client, path, event string) (realtime.Subscription[T], error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := websocket.Dial(ctx, c.wsURL(path), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, errorFrom(resp)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	conn.SetReadLimit(readLimit)

	var ready proto.Outbound
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("%w: read ready frame: %w", realtime.ErrDisconnected, err)
	}
	if ready.Type != proto.OutboundTypeReady {
		_ = conn.Close(websocket.StatusProtocolError, "expected ready")
		return nil, fmt.Errorf("%w: unexpected first frame %q", realtime.ErrDisconnected, ready.Type)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	feed := realtime.NewFeed[T](c.buffer, func() {
		cancel()
		_ = conn.CloseNow()
	})
	go pump(pumpCtx, c, conn, feed, event)
	return feed, nil
}

func pump[T any](ctx context.Context, c *Client, conn *websocket.Conn, feed *realtime.Feed[T], event string) {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.log.Debug().Int("status", int(status)).Str("event", event).Msg("server closed stream")
			}
			feed.Fail(fmt.Errorf("%w: %w", realtime.ErrDisconnected, err))
			return
		}
		if out.Type != proto.OutboundTypeEvent || out.Event != event {
			c.log.Debug().Str("type", out.Type).Str("event", out.Event).Msg("skipping unexpected frame")
			continue
		}

		var v T
		if err := json.Unmarshal(out.Data, &v); err != nil {
			_ = conn.Close(websocket.StatusUnsupportedData, "bad event payload")
			feed.Fail(fmt.Errorf("%w: decode %s event: %w", realtime.ErrDisconnected, event, err))
			return
		}
		if !feed.Offer(v) {
			feed.Fail(realtime.ErrSlowConsumer)
			return
		}
	}
}

func (c *Client) wsURL(path string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += path
	return u.String()
}
