package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/nodewatch/internal/api/models"
	"github.com/smazurov/nodewatch/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of node, child and session events. The current status is sent first.",
		Tags:        []string{"events"},
	}, map[string]any{
		"status":               models.StatusData{},
		"node-content-changed": events.NodeContentChangedEvent{},
		"descendants-grew":     events.DescendantsGrewEvent{},
		"session-closed":       events.SessionClosedEvent{},
		"child-state-changed":  events.ChildStateChangedEvent{},
		"child-launch-failed":  events.ChildLaunchFailedEvent{},
		"coordination-event":   events.CoordinationEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.NodeContentChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DescendantsGrewEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionClosedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ChildStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ChildLaunchFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CoordinationEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(s.status()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					// Connection failed, clean up and exit
					return
				}
			}
		}
	})
}
