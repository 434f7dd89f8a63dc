package entity

import "time"

// OutboxAction is a durable "action requested" marker written in the same
// transaction as the state change that requested it. Delivery is at least
// once; collaborators deduplicate by DeliveryID.
type OutboxAction struct {
	ID         int64                  `json:"id"`
	DeliveryID string                 `json:"delivery_id"`
	InstanceID int64                  `json:"instance_id"`
	Kind       string                 `json:"kind"`
	Template   string                 `json:"template,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`

	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
