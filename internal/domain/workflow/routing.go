package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
)

// StepMode controls how many assignments a chain step creates
type StepMode string

const (
	ModeSequential StepMode = "sequential"
	ModeParallel   StepMode = "parallel"
)

// QuorumKind names a quorum policy for parallel steps
type QuorumKind string

const (
	QuorumAll      QuorumKind = "all"
	QuorumMajority QuorumKind = "majority"
	QuorumFirst    QuorumKind = "first"
	QuorumCount    QuorumKind = "count"
)

// Quorum decides when a parallel step's votes resolve the step
type Quorum struct {
	Kind QuorumKind
	N    int
}

// ParseQuorum accepts "all", "majority", "first" or "count:N"
func ParseQuorum(s string) (Quorum, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch QuorumKind(s) {
	case "":
		return Quorum{Kind: QuorumAll}, nil
	case QuorumAll, QuorumMajority, QuorumFirst:
		return Quorum{Kind: QuorumKind(s)}, nil
	}

	if rest, ok := strings.CutPrefix(s, "count:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Quorum{}, fmt.Errorf("invalid quorum count %q", rest)
		}
		return Quorum{Kind: QuorumCount, N: n}, nil
	}
	return Quorum{}, fmt.Errorf("unknown quorum %q", s)
}

// Required returns how many matching votes out of total resolve the step
func (q Quorum) Required(total int) int {
	switch q.Kind {
	case QuorumFirst:
		return 1
	case QuorumMajority:
		return total/2 + 1
	case QuorumCount:
		if q.N < total {
			return q.N
		}
		return total
	}
	return total
}

func (q Quorum) String() string {
	if q.Kind == QuorumCount {
		return fmt.Sprintf("count:%d", q.N)
	}
	if q.Kind == "" {
		return string(QuorumAll)
	}
	return string(q.Kind)
}

// MarshalText implements encoding.TextMarshaler
func (q Quorum) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (q *Quorum) UnmarshalText(b []byte) error {
	parsed, err := ParseQuorum(string(b))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ApprovalStep is one position of an approval chain
type ApprovalStep struct {
	Name string   `json:"name"`
	Mode StepMode `json:"mode"`

	// Role is the assignee role of a sequential step
	Role string `json:"role,omitempty"`

	// Approvers lists the participants of a parallel step. Each entry is a
	// role name or "user:<id>".
	Approvers []string `json:"approvers,omitempty"`
	Quorum    Quorum   `json:"quorum"`

	// Fallback is the decision fired when no decision can reach the quorum
	Fallback string `json:"fallback,omitempty"`

	TimeoutMinutes    int  `json:"timeout_minutes,omitempty"`
	BusinessHoursOnly bool `json:"business_hours_only,omitempty"`
	ExcludeWeekends   bool `json:"exclude_weekends,omitempty"`
	ExcludeHolidays   bool `json:"exclude_holidays,omitempty"`
}

// Participants returns the assignee specs this step creates assignments for
func (s ApprovalStep) Participants() []string {
	if s.Mode == ModeParallel {
		return s.Approvers
	}
	return []string{s.Role}
}

// ApprovalChain is the ordered list of steps selected for an instance
type ApprovalChain struct {
	RuleID string         `json:"rule_id"`
	Steps  []ApprovalStep `json:"steps"`
}

// Step returns the step at index i, or false past the end
func (c ApprovalChain) Step(i int) (ApprovalStep, bool) {
	if i < 0 || i >= len(c.Steps) {
		return ApprovalStep{}, false
	}
	return c.Steps[i], true
}

// DefaultRuleID identifies the workflow's default chain in routing records
const DefaultRuleID = "default"

// RoutingRule maps a condition to an approval chain
type RoutingRule struct {
	ID            string
	Priority      int
	Condition     condition.Expr
	Chain         []ApprovalStep
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time

	// CreatedAt breaks priority ties, oldest first; declaration order breaks the rest
	CreatedAt time.Time
	Seq       int
}

// ActiveOn reports whether asOf falls inside the rule's inclusive date window
func (r RoutingRule) ActiveOn(asOf time.Time) bool {
	day := dateOf(asOf)
	if r.EffectiveFrom != nil && day.Before(dateOf(*r.EffectiveFrom)) {
		return false
	}
	if r.EffectiveTo != nil && day.After(dateOf(*r.EffectiveTo)) {
		return false
	}
	return true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
