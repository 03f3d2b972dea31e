// README: Websocket gateway bridging passenger connections to the tracking hub.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sharetaxi/internal/http/middleware"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/tracking"
	"sharetaxi/internal/types"
)

const wsWriteTimeout = 5 * time.Second

type WSHandler struct {
	hub          *tracking.Hub
	monitor      *tracking.Monitor
	sendBuffer   int
	pingInterval time.Duration
	logger       *slog.Logger
}

func NewWSHandler(hub *tracking.Hub, monitor *tracking.Monitor, sendBuffer int, pingInterval time.Duration, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:          hub,
		monitor:      monitor,
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		logger:       logger.With("component", "gateway"),
	}
}

// Serve upgrades the request. The caller must already be authenticated so the
// connection can be matched to the passenger's accepted requests.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := tracking.NewClient(uuid.NewString(), types.ID(middleware.CallerUID(c)), h.sendBuffer)
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *tracking.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg tracking.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(client, tracking.ErrorMessage("bad_message", "invalid json"))
			continue
		}

		switch msg.Type {
		case tracking.InboundSubscribe:
			var payload tracking.SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.TaxiID == "" {
				h.reply(client, tracking.ErrorMessage("bad_message", "taxiId required"))
				continue
			}
			h.subscribe(ctx, client, types.ID(payload.TaxiID))

		case tracking.InboundUnsubscribe:
			_ = h.hub.Unsubscribe(client.ID)

		case tracking.InboundPing:
			h.reply(client, tracking.Message{Type: tracking.TypePong})

		default:
			h.reply(client, tracking.ErrorMessage("bad_message", "unknown message type"))
		}
	}
}

// subscribe starts monitoring before reading the snapshot so no update is lost
// in between. Clients keep the highest version they have seen.
func (h *WSHandler) subscribe(ctx context.Context, client *tracking.Client, taxiID types.ID) {
	if err := h.hub.Subscribe(client.ID, taxiID); err != nil {
		return
	}
	snap, err := h.monitor.Snapshot(ctx, taxiID)
	if err != nil {
		_ = h.hub.Unsubscribe(client.ID)
		if errors.Is(err, taxi.ErrNotFound) {
			h.reply(client, tracking.ErrorMessage("taxi_not_found", "taxi not found"))
			return
		}
		h.logger.Warn("snapshot failed", "client_id", client.ID, "taxi_id", taxiID, "error", err)
		h.reply(client, tracking.ErrorMessage("internal", "snapshot unavailable"))
		return
	}
	h.reply(client, tracking.Message{Type: tracking.TypeSnapshot, Payload: snap})
}

func (h *WSHandler) reply(client *tracking.Client, msg tracking.Message) {
	if err := h.hub.Send(client.ID, msg); err != nil {
		h.logger.Debug("reply dropped", "client_id", client.ID, "type", msg.Type, "error", err)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *tracking.Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
