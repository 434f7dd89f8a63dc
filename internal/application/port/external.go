package port

import (
	"context"
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/entity"
)

// BusinessCalendar answers which days and hours count toward deadlines
type BusinessCalendar interface {
	IsBusinessDay(ctx context.Context, day time.Time) (bool, error)

	// WorkingHours returns the working window of day. ok is false when the
	// day has no working hours.
	WorkingHours(ctx context.Context, day time.Time) (start, end time.Time, ok bool, err error)
}

// Notification is a templated message handed to a Notifier
type Notification struct {
	DeliveryID string
	InstanceID int64
	Template   string
	Recipients []string
	Payload    map[string]interface{}
}

// Notifier delivers notifications. Implementations must be idempotent per
// DeliveryID and return it on success.
type Notifier interface {
	Send(ctx context.Context, n Notification) (string, error)
}

// RoleContext is what an IdentityResolver may inspect to resolve a role
type RoleContext struct {
	InstanceID int64
	Workflow   string
	Requester  string
	Data       map[string]interface{}
}

// IdentityResolver turns a role into concrete user IDs
type IdentityResolver interface {
	ResolveRole(ctx context.Context, role string, rc RoleContext) ([]string, error)
}

// RoleLookup returns the roles a user holds
type RoleLookup interface {
	RolesOf(ctx context.Context, userID string) ([]string, error)
}

// ActionHandler performs side_effect actions drained from the outbox
type ActionHandler interface {
	Handle(ctx context.Context, action *entity.OutboxAction) error
}
