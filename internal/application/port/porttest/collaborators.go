package porttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
)

// WeekdayCalendar works Monday to Friday, 09:00-17:00, in the location of
// the day it is asked about. Holidays are keyed by "2006-01-02".
type WeekdayCalendar struct {
	Holidays map[string]bool
}

var _ port.BusinessCalendar = WeekdayCalendar{}

func (c WeekdayCalendar) IsBusinessDay(_ context.Context, day time.Time) (bool, error) {
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return false, nil
	}
	return !c.Holidays[day.Format("2006-01-02")], nil
}

func (c WeekdayCalendar) WorkingHours(_ context.Context, day time.Time) (time.Time, time.Time, bool, error) {
	y, m, d := day.Date()
	return time.Date(y, m, d, 9, 0, 0, 0, day.Location()),
		time.Date(y, m, d, 17, 0, 0, 0, day.Location()), true, nil
}

// Directory maps roles to members
type Directory map[string][]string

var (
	_ port.IdentityResolver = Directory{}
	_ port.RoleLookup       = Directory{}
)

func (d Directory) ResolveRole(_ context.Context, role string, _ port.RoleContext) ([]string, error) {
	return append([]string(nil), d[role]...), nil
}

func (d Directory) RolesOf(_ context.Context, userID string) ([]string, error) {
	var roles []string
	for role, members := range d {
		for _, m := range members {
			if m == userID {
				roles = append(roles, role)
				break
			}
		}
	}
	sort.Strings(roles)
	return roles, nil
}

// Notifier records notifications and fails while Err is set
type Notifier struct {
	mu   sync.Mutex
	Err  error
	Sent []port.Notification
}

var _ port.Notifier = (*Notifier)(nil)

func (n *Notifier) Send(_ context.Context, msg port.Notification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Err != nil {
		return "", n.Err
	}
	n.Sent = append(n.Sent, msg)
	return msg.DeliveryID, nil
}

// Messages returns a copy of the recorded notifications
func (n *Notifier) Messages() []port.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]port.Notification(nil), n.Sent...)
}

// ActionHandler records side-effect actions
type ActionHandler struct {
	mu      sync.Mutex
	Err     error
	Handled []*entity.OutboxAction
}

var _ port.ActionHandler = (*ActionHandler)(nil)

func (h *ActionHandler) Handle(_ context.Context, action *entity.OutboxAction) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Err != nil {
		return h.Err
	}
	h.Handled = append(h.Handled, action)
	return nil
}
