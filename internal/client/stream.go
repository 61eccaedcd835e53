package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/MarcoPoloResearchLab/koi/internal/gamification"
	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamBufferSize = 16

// SubscribeProfile opens the WebSocket change stream. The returned channel closes when
// the connection drops, ctx ends, or cleanup runs; no reconnection is attempted.
func (c *Client) SubscribeProfile(ctx context.Context, identityID string) (<-chan gamification.ProfileRecord, func(), error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, response, err := c.dialer.DialContext(ctx, c.streamEndpoint("/profile/stream"), header)
	if err != nil {
		if response != nil {
			_ = response.Body.Close()
			return nil, nil, fmt.Errorf("client: subscribe: %w", &StatusError{StatusCode: response.StatusCode})
		}
		return nil, nil, fmt.Errorf("client: subscribe: %w", err)
	}

	var (
		once     sync.Once
		released = make(chan struct{})
		done     = make(chan struct{})
	)
	release := func() {
		once.Do(func() {
			close(released)
			_ = conn.Close()
		})
	}

	records := make(chan gamification.ProfileRecord, streamBufferSize)
	go func() {
		defer close(done)
		defer close(records)
		for {
			var message realtime.Message
			if err := conn.ReadJSON(&message); err != nil {
				select {
				case <-released:
				default:
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, context.Canceled) {
						c.logger.Warn("profile stream read failed", zap.String("identity_id", identityID), zap.Error(err))
					}
				}
				return
			}
			if message.EventType != realtime.EventProfileChanged {
				continue
			}
			record := gamification.ProfileRecord{
				ID:        message.UserID,
				Level:     message.Level,
				XP:        message.XP,
				FullName:  message.FullName,
				AvatarURL: message.AvatarURL,
			}
			select {
			case records <- record:
			case <-ctx.Done():
				return
			case <-released:
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		release()
	}()

	return records, release, nil
}
