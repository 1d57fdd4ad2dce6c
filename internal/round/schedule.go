package round

import (
	"fmt"
	"time"
)

// MaintenanceWindow is a weekly UTC interval during which purchases are paused
type MaintenanceWindow struct {
	Weekday     time.Weekday
	StartMinute int // minutes after 00:00 UTC
	Duration    time.Duration
}

// ParseMaintenanceWindow builds a window from a weekday, an "HH:MM" start and a length
func ParseMaintenanceWindow(weekday time.Weekday, start string, duration time.Duration) (MaintenanceWindow, error) {
	t, err := time.Parse("15:04", start)
	if err != nil {
		return MaintenanceWindow{}, fmt.Errorf("maintenance start %q: %w", start, err)
	}
	if duration <= 0 || duration > 7*24*time.Hour {
		return MaintenanceWindow{}, fmt.Errorf("maintenance duration %s out of range", duration)
	}
	return MaintenanceWindow{
		Weekday:     weekday,
		StartMinute: t.Hour()*60 + t.Minute(),
		Duration:    duration,
	}, nil
}

// lastStart returns the most recent window start at or before t
func (w MaintenanceWindow) lastStart(t time.Time) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	daysBack := (int(t.Weekday()) - int(w.Weekday) + 7) % 7
	start := midnight.AddDate(0, 0, -daysBack).Add(time.Duration(w.StartMinute) * time.Minute)
	if start.After(t) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// Contains reports whether t falls inside the window. Windows may cross midnight.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	start := w.lastStart(t)
	return t.UTC().Before(start.Add(w.Duration))
}

// Next returns the next window start strictly after t
func (w MaintenanceWindow) Next(t time.Time) time.Time {
	return w.lastStart(t).AddDate(0, 0, 7)
}

func (w MaintenanceWindow) String() string {
	return fmt.Sprintf("%s %02d:%02d UTC for %s", w.Weekday, w.StartMinute/60, w.StartMinute%60, w.Duration)
}

// DailySnapshotHour is when the off-chain token snapshot is taken each day
const DailySnapshotHour = 21

// NextDailySnapshot returns the next 21:00 UTC strictly after now
func NextDailySnapshot(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), DailySnapshotHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// LastDailySnapshot returns the most recent 21:00 UTC at or before now
func LastDailySnapshot(now time.Time) time.Time {
	return NextDailySnapshot(now).AddDate(0, 0, -1)
}
