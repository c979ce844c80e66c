package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/events"
	"github.com/webtm/webtm-go/internal/logging"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/websocket"
)

// feedHub forwards log lines and engine events to connected admin UIs.
// Listeners stay registered for the process lifetime; only the log
// subscription needs explicit teardown.
func feedHub(ctx context.Context, ctrl *events.Controller, hub *websocket.Hub) {
	id, lines, _ := logging.GetBroadcaster().Subscribe()
	go func() {
		defer logging.GetBroadcaster().Unsubscribe(id)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				hub.BroadcastLog(line)
			case <-ctx.Done():
				return
			}
		}
	}()

	bus := ctrl.Bus
	bus.Start.On(func(context.Context, struct{}) error {
		hub.BroadcastEvent("start", map[string]any{"running": true})
		return nil
	})
	bus.Stop.On(func(context.Context, struct{}) error {
		hub.BroadcastEvent("stop", map[string]any{"running": false})
		return nil
	})
	bus.DispatchContent.On(func(_ context.Context, c models.Content) error {
		raw, err := models.MarshalContent(c)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to encode content for the event stream")
			return nil
		}
		hub.BroadcastEvent("dispatch_content", json.RawMessage(raw))
		return nil
	})
	bus.UserChange.On(func(_ context.Context, username string) error {
		hub.BroadcastEvent("user_change", username)
		return nil
	})
	bus.UserConfigChange.On(func(_ context.Context, username string) error {
		hub.BroadcastEvent("user_config_change", username)
		return nil
	})
	bus.SystemConfigChange.On(func(_ context.Context, _ events.ConfigChange) error {
		hub.BroadcastEvent("system_config_change", nil)
		return nil
	})
}
