package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appcal "github.com/garyjia/wfm-approvals/internal/application/calendar"
)

func TestStaticCalendar_BusinessDays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Holidays = []string{"2025-12-25"}
	cal, err := NewStaticCalendar(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		day  string
		want bool
	}{
		{"2025-12-24", true},
		{"2025-12-25", false},
		{"2025-12-27", false},
		{"2025-12-29", true},
	}
	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			day, err := time.Parse(dateLayout, tt.day)
			require.NoError(t, err)
			got, err := cal.IsBusinessDay(ctx, day)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticCalendar_WorkingHoursInTimezone(t *testing.T) {
	cal, err := NewStaticCalendar(Config{
		Timezone:  "Europe/Berlin",
		Days:      []string{"mon", "tue", "wed", "thu", "fri"},
		Hours:     Hours{Start: "08:30", End: "17:00"},
		Overrides: map[string]Hours{"friday": {Start: "08:30", End: "13:00"}},
	})
	require.NoError(t, err)

	friday := time.Date(2025, 6, 6, 12, 0, 0, 0, time.UTC)
	start, end, ok, err := cal.WorkingHours(context.Background(), friday)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 6, 6, 30, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, time.Date(2025, 6, 6, 11, 0, 0, 0, time.UTC), end.UTC())
}

func TestStaticCalendar_DeadlineThroughService(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Holidays = []string{"2025-06-09"}
	cal, err := NewStaticCalendar(cfg)
	require.NoError(t, err)

	svc := appcal.NewService(cal, zap.NewNop(), appcal.WithLocation(cal.Location()))
	opts := appcal.Options{BusinessHoursOnly: true, ExcludeWeekends: true, ExcludeHolidays: true}

	// Friday 16:00 + 2h: one hour Friday, Monday is a holiday, one hour Tuesday
	due, err := svc.ComputeDeadline(context.Background(), time.Date(2025, 6, 6, 16, 0, 0, 0, time.UTC), 120, opts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC), due.UTC())
}

func TestNewStaticCalendar_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad timezone", Config{Timezone: "Mars/Olympus", Hours: Hours{Start: "09:00", End: "17:00"}}},
		{"bad weekday", Config{Days: []string{"funday"}, Hours: Hours{Start: "09:00", End: "17:00"}}},
		{"bad clock", Config{Hours: Hours{Start: "9am", End: "17:00"}}},
		{"inverted hours", Config{Hours: Hours{Start: "17:00", End: "09:00"}}},
		{"bad holiday", Config{Hours: Hours{Start: "09:00", End: "17:00"}, Holidays: []string{"25/12/2025"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticCalendar(tt.cfg)
			assert.Error(t, err)
		})
	}
}
