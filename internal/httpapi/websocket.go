package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsBufferSize = 1024
	wsPingPeriod = 30 * time.Second
)

// StatusTopic is the pubsub topic cmd/node.go publishes a
// marshaled core.Status to from the Callbacks.StatusChanged hook
// (§6's "Status callback (produced)"), and that wsStatus relays to
// connected dashboards — the same shape as the teacher's
// Hub.ListenForWebsocket relaying a pubsub "calls" topic.
const StatusTopic = "lip.status"

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals
	HandshakeTimeout: 0,
	ReadBufferSize:   wsBufferSize,
	WriteBufferSize:  wsBufferSize,
	CheckOrigin:      func(*http.Request) bool { return true },
}

// wsStatus implements GET /ws/status: it upgrades the connection,
// sends one initial status snapshot, then relays every subsequent
// StatusTopic publication until the client disconnects.
func (c *controller) wsStatus(ctx *gin.Context) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Error("httpapi: websocket upgrade failed", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("httpapi: websocket close", "error", err)
		}
	}()

	if err := writeStatus(conn, toStatusResponse(c.node.GetStatus(false))); err != nil {
		return
	}

	if c.ps == nil {
		return
	}
	sub := c.ps.Subscribe(StatusTopic)
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Debug("httpapi: closing status subscription", "error", err)
		}
	}()

	reqCtx := ctx.Request.Context()
	ch := sub.Channel()
	for {
		select {
		case <-reqCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func writeStatus(conn *websocket.Conn, s statusResponse) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err //nolint:wrapcheck
	}
	return conn.WriteMessage(websocket.TextMessage, payload) //nolint:wrapcheck
}
