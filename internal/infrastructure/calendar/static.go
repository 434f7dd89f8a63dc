// Package calendar provides a business calendar read from configuration
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/garyjia/wfm-approvals/internal/application/port"
)

const dateLayout = "2006-01-02"

// Hours is a working window in "15:04" form
type Hours struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// Config describes a fixed calendar. Days lists the working weekdays by
// English name; Overrides changes the hours of individual weekdays.
type Config struct {
	Timezone  string           `mapstructure:"timezone"`
	Days      []string         `mapstructure:"days"`
	Hours     Hours            `mapstructure:"hours"`
	Overrides map[string]Hours `mapstructure:"overrides"`
	Holidays  []string         `mapstructure:"holidays"`
}

// DefaultConfig is Monday to Friday, 09:00-17:00 UTC
func DefaultConfig() Config {
	return Config{
		Timezone: "UTC",
		Days:     []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		Hours:    Hours{Start: "09:00", End: "17:00"},
	}
}

type window struct {
	start, end time.Duration
}

// StaticCalendar answers from configuration alone
type StaticCalendar struct {
	location  *time.Location
	workdays  map[time.Weekday]bool
	hours     window
	overrides map[time.Weekday]window
	holidays  map[string]bool
}

var _ port.BusinessCalendar = (*StaticCalendar)(nil)

// NewStaticCalendar validates cfg and builds the calendar
func NewStaticCalendar(cfg Config) (*StaticCalendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar timezone %q: %w", tz, err)
	}

	c := &StaticCalendar{
		location:  loc,
		workdays:  make(map[time.Weekday]bool, len(cfg.Days)),
		overrides: make(map[time.Weekday]window, len(cfg.Overrides)),
		holidays:  make(map[string]bool, len(cfg.Holidays)),
	}

	for _, name := range cfg.Days {
		day, err := parseWeekday(name)
		if err != nil {
			return nil, err
		}
		c.workdays[day] = true
	}

	if c.hours, err = parseHours(cfg.Hours); err != nil {
		return nil, err
	}
	for name, h := range cfg.Overrides {
		day, err := parseWeekday(name)
		if err != nil {
			return nil, err
		}
		w, err := parseHours(h)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		c.overrides[day] = w
	}

	for _, d := range cfg.Holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: want YYYY-MM-DD", d)
		}
		c.holidays[d] = true
	}
	return c, nil
}

// Location returns the calendar's timezone
func (c *StaticCalendar) Location() *time.Location {
	return c.location
}

// IsBusinessDay reports whether day is a working weekday and not a holiday
func (c *StaticCalendar) IsBusinessDay(_ context.Context, day time.Time) (bool, error) {
	day = day.In(c.location)
	if !c.workdays[day.Weekday()] {
		return false, nil
	}
	return !c.holidays[day.Format(dateLayout)], nil
}

// WorkingHours returns the configured window of day's weekday. Holidays
// keep their hours; callers decide whether holidays count.
func (c *StaticCalendar) WorkingHours(_ context.Context, day time.Time) (time.Time, time.Time, bool, error) {
	day = day.In(c.location)
	w, ok := c.overrides[day.Weekday()]
	if !ok {
		w = c.hours
	}
	if w.end <= w.start {
		return time.Time{}, time.Time{}, false, nil
	}

	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, c.location)
	return midnight.Add(w.start), midnight.Add(w.end), true, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || n == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

func parseHours(h Hours) (window, error) {
	start, err := parseClock(h.Start)
	if err != nil {
		return window{}, err
	}
	end, err := parseClock(h.End)
	if err != nil {
		return window{}, err
	}
	if end < start {
		return window{}, fmt.Errorf("working hours end %s before start %s", h.End, h.Start)
	}
	return window{start: start, end: end}, nil
}

func parseClock(s string) (time.Duration, error) {
	if s == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
