package dispatcher

import (
	"context"

	"github.com/garyjia/wfm-approvals/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// AllEvents is the EventType of handlers subscribed with SubscribeAll
const AllEvents event.Type = "*"
