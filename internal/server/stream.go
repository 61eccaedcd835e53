package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleProfileStream upgrades to a WebSocket and forwards every profile change of the
// caller as a JSON frame. The subscription is registered before the upgrade completes,
// so changes published after the handshake are never missed.
func (h *httpHandler) handleProfileStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := h.stream.Subscribe(ctx, userID)
	defer cleanup()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("profile stream upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("profile stream opened", zap.String("user_id", userID))
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("profile stream closed", zap.String("user_id", userID))
			return
		case message, ok := <-stream:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(message); err != nil {
				h.logger.Info("profile stream write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}
