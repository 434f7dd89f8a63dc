package entity

import "time"

// HistoryEntry is an append-only audit record
type HistoryEntry struct {
	ID         int64                  `json:"id"`
	InstanceID int64                  `json:"instance_id"`
	Kind       string                 `json:"kind"`
	FromState  string                 `json:"from_state,omitempty"`
	ToState    string                 `json:"to_state,omitempty"`
	Transition string                 `json:"transition,omitempty"`
	Actor      string                 `json:"actor"`
	Reason     string                 `json:"reason,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// IsStateChange returns true for entries that moved the instance
func (h *HistoryEntry) IsStateChange() bool {
	return h.FromState != "" && h.ToState != "" && h.FromState != h.ToState
}
