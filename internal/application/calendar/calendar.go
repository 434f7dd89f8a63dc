// Package calendar computes deadlines and elapsed business time on top of a
// BusinessCalendar. When the calendar cannot answer, it degrades to treating
// every day as a full business day instead of blocking the caller.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// MaxWalkDays bounds the day walk so a calendar with no working time cannot
// loop forever
const MaxWalkDays = 3660

// ErrWalkExhausted is returned when MaxWalkDays pass without consuming the timeout
var ErrWalkExhausted = errors.New("business day walk exceeded bound")

// Options selects which time counts toward a timeout
type Options struct {
	BusinessHoursOnly bool `json:"business_hours_only"`
	ExcludeWeekends   bool `json:"exclude_weekends"`
	ExcludeHolidays   bool `json:"exclude_holidays"`
}

// StepOptions returns the options of an approval step
func StepOptions(s workflow.ApprovalStep) Options {
	return Options{
		BusinessHoursOnly: s.BusinessHoursOnly,
		ExcludeWeekends:   s.ExcludeWeekends,
		ExcludeHolidays:   s.ExcludeHolidays,
	}
}

// LevelOptions returns the options of an escalation level
func LevelOptions(l workflow.EscalationLevel) Options {
	return Options{
		BusinessHoursOnly: l.BusinessHoursOnly,
		ExcludeWeekends:   l.ExcludeWeekends,
		ExcludeHolidays:   l.ExcludeHolidays,
	}
}

// BreakerSettings configures the circuit breaker around the calendar
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings trips after five consecutive failures for 30s
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Service computes deadlines. It is safe for concurrent use.
type Service struct {
	calendar   port.BusinessCalendar
	breaker    *gobreaker.CircuitBreaker
	location   *time.Location
	onDegraded func()
	logger     *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLocation sets the timezone that defines day boundaries
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithDegradedHook registers a callback run each time a day is computed in
// degraded mode
func WithDegradedHook(fn func()) Option {
	return func(s *Service) { s.onDegraded = fn }
}

// WithBreaker replaces the default breaker settings
func WithBreaker(settings BreakerSettings) Option {
	return func(s *Service) { s.breaker = newBreaker(settings, s.logger) }
}

// NewService creates a Service over cal
func NewService(cal port.BusinessCalendar, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		calendar: cal,
		location: time.UTC,
		logger:   logger,
	}
	s.breaker = newBreaker(DefaultBreakerSettings(), logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBreaker(settings BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "business-calendar",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Calendar circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Location returns the timezone used for day boundaries
func (s *Service) Location() *time.Location {
	return s.location
}

// ComputeDeadline returns the instant at which minutes of countable time have
// elapsed after start
func (s *Service) ComputeDeadline(ctx context.Context, start time.Time, minutes int, opts Options) (time.Time, error) {
	if minutes <= 0 {
		return start, nil
	}
	remaining := time.Duration(minutes) * time.Minute
	if !opts.BusinessHoursOnly {
		return start.Add(remaining), nil
	}

	cursor := start.In(s.location)
	day := startOfDay(cursor)
	for i := 0; i < MaxWalkDays; i++ {
		winStart, winEnd, ok := s.window(ctx, day, opts)
		if ok {
			from := cursor
			if from.Before(winStart) {
				from = winStart
			}
			if from.Before(winEnd) {
				avail := winEnd.Sub(from)
				if remaining <= avail {
					return from.Add(remaining), nil
				}
				remaining -= avail
			}
		}
		day = nextDay(day)
		cursor = day
	}
	return time.Time{}, fmt.Errorf("%w: %d minutes from %s", ErrWalkExhausted, minutes, start.Format(time.RFC3339))
}

// BusinessMinutesBetween counts the countable minutes in [from, to). It is
// used for reporting and never for decisions.
func (s *Service) BusinessMinutesBetween(ctx context.Context, from, to time.Time, opts Options) (int, error) {
	if !to.After(from) {
		return 0, nil
	}
	if !opts.BusinessHoursOnly {
		return int(to.Sub(from) / time.Minute), nil
	}

	from = from.In(s.location)
	to = to.In(s.location)

	var total time.Duration
	day := startOfDay(from)
	for i := 0; i < MaxWalkDays; i++ {
		if !day.Before(to) {
			return int(total / time.Minute), nil
		}
		winStart, winEnd, ok := s.window(ctx, day, opts)
		if ok {
			lo, hi := winStart, winEnd
			if from.After(lo) {
				lo = from
			}
			if to.Before(hi) {
				hi = to
			}
			if hi.After(lo) {
				total += hi.Sub(lo)
			}
		}
		day = nextDay(day)
	}
	return 0, fmt.Errorf("%w: from %s to %s", ErrWalkExhausted, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

// window returns the countable part of day, or false if the day is skipped
func (s *Service) window(ctx context.Context, day time.Time, opts Options) (time.Time, time.Time, bool) {
	business, err := s.isBusinessDay(ctx, day)
	if err != nil {
		s.degrade(day, err)
		return day, nextDay(day), true
	}

	weekend := day.Weekday() == time.Saturday || day.Weekday() == time.Sunday
	if opts.ExcludeWeekends && weekend {
		return time.Time{}, time.Time{}, false
	}
	if opts.ExcludeHolidays && !business && !weekend {
		return time.Time{}, time.Time{}, false
	}

	start, end, ok, err := s.workingHours(ctx, day)
	if err != nil {
		s.degrade(day, err)
		return day, nextDay(day), true
	}
	if !ok || !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (s *Service) isBusinessDay(ctx context.Context, day time.Time) (bool, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.calendar.IsBusinessDay(ctx, day)
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

type hours struct {
	start, end time.Time
	ok         bool
}

func (s *Service) workingHours(ctx context.Context, day time.Time) (time.Time, time.Time, bool, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		start, end, ok, err := s.calendar.WorkingHours(ctx, day)
		return hours{start: start, end: end, ok: ok}, err
	})
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	h := out.(hours)
	return h.start, h.end, h.ok, nil
}

func (s *Service) degrade(day time.Time, err error) {
	s.logger.Warn("Business calendar unavailable, counting day as a full business day",
		zap.String("day", day.Format("2006-01-02")),
		zap.Error(fmt.Errorf("%w: %v", workflow.ErrCalendarUnavailable, err)))
	if s.onDegraded != nil {
		s.onDegraded()
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, day.Location())
}
