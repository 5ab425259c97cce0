package streaming

import (
	"context"

	"github.com/flame-sh/flame/internal/flame/events"
)

// BridgeEvents subscribes the hub to flame.task.completed events on bus so
// observers connected over websocket see terminal task transitions without
// the streaming package depending on the controller directly.
func BridgeEvents(bus events.Bus, hub *Hub) (events.Subscription, error) {
	return bus.Subscribe(events.TaskCompleted, func(ctx context.Context, evt *events.Event) {
		ssnID, _ := evt.Data["ssn_id"].(int64)
		taskID, _ := evt.Data["task_id"].(int64)
		state, _ := evt.Data["state"].(string)
		hub.Broadcast(ssnID, taskID, state)
	})
}
