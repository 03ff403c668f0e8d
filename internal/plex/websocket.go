package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WatchTimeline opens a single WebSocket connection to the server's
// notification endpoint and invokes handler for every timeline entry until
// the connection drops or ctx is cancelled. onConnect runs once after the
// dial succeeds. Reconnection policy belongs to the caller; this function
// reports each disconnect as an error return.
//
// Plex does not handle standard WebSocket ping frames well, so none are
// sent; the server's own notification traffic keeps the connection alive.
func (c *Client) WatchTimeline(ctx context.Context, onConnect func(), handler func(TimelineEntry)) error {
	wsURL, err := c.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket dial failed: %w", err)
	}
	defer conn.Close()

	log.Info().Str("url", c.baseURL).Msg("Connected to Plex notification socket")
	if onConnect != nil {
		onConnect()
	}

	readErrCh := make(chan error, 1)

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}

			var notification websocketNotification
			if err := json.Unmarshal(message, &notification); err != nil {
				log.Debug().Err(err).RawJSON("message", message).Msg("Failed to parse WebSocket message")
				continue
			}

			if notification.NotificationContainer.Type != "timeline" {
				continue
			}
			for _, entry := range notification.NotificationContainer.TimelineEntry {
				handler(entry)
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return ctx.Err()
	case err := <-readErrCh:
		return err
	}
}

func (c *Client) buildWebSocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/:/websockets/notifications"

	q := parsed.Query()
	q.Set("X-Plex-Token", c.token)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}
