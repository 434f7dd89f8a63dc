package dispatcher

import (
	"context"
	"fmt"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/event"
)

// Payload keys set on action.requested events
const (
	PayloadTarget     = "target"
	PayloadDeliveryID = "delivery_id"
)

// ActionHandler performs outbox side effects by dispatching an
// action.requested event synchronously. A handler error fails the delivery,
// so the outbox retries it.
type ActionHandler struct {
	dispatcher Dispatcher
}

var _ port.ActionHandler = (*ActionHandler)(nil)

// NewActionHandler creates an ActionHandler over d
func NewActionHandler(d Dispatcher) *ActionHandler {
	return &ActionHandler{dispatcher: d}
}

// Handle dispatches the action. The event's correlation ID is the delivery
// ID, which handlers use to deduplicate redeliveries.
func (h *ActionHandler) Handle(ctx context.Context, action *entity.OutboxAction) error {
	if action.Target == "" {
		return fmt.Errorf("side effect action %d has no target", action.ID)
	}
	if len(h.dispatcher.ListHandlers(event.TypeActionRequested)) == 0 {
		return fmt.Errorf("no handler subscribed for side effect %s", action.Target)
	}

	payload := make(map[string]interface{}, len(action.Payload)+2)
	for k, v := range action.Payload {
		payload[k] = v
	}
	payload[PayloadTarget] = action.Target
	payload[PayloadDeliveryID] = action.DeliveryID

	workflowName, _ := action.Payload["workflow"].(string)
	evt := event.NewEventWithCorrelation(event.TypeActionRequested, action.InstanceID, workflowName, payload, action.DeliveryID)
	return h.dispatcher.Dispatch(ctx, evt)
}

// ForTarget wraps fn so it only runs for action.requested events naming target
func ForTarget(target string, fn Handler) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		if evt.GetPayloadString(PayloadTarget) != target {
			return nil
		}
		return fn(ctx, evt)
	}
}
