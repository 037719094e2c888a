package scheduling

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	DateLayout = "2006-01-02"
	SlotLength = 30 * time.Minute
	slotStep   = 5
)

// DefaultTemplate is the slot set used when a doctor has no calendar for the
// day: every 30 minutes from 08:00 to 17:30 with a 12:00-13:00 lunch break.
func DefaultTemplate() []string {
	var out []string
	step := int(SlotLength / time.Minute)
	for m := 8 * 60; m <= 17*60+30; m += step {
		if m >= 12*60 && m < 13*60 {
			continue
		}
		out = append(out, formatClock(m))
	}
	return out
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseClock parses an HH:MM time of day into minutes after midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return h*60 + m, nil
}

// NormalizeSlots validates, deduplicates and sorts a slot set. Slots must
// fall on 5-minute boundaries.
func NormalizeSlots(in []string) ([]string, error) {
	seen := make(map[int]bool, len(in))
	mins := make([]int, 0, len(in))
	for _, s := range in {
		m, err := ParseClock(s)
		if err != nil {
			return nil, err
		}
		if m%slotStep != 0 {
			return nil, fmt.Errorf("time of day %q is not on a %d-minute boundary", s, slotStep)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		mins = append(mins, m)
	}
	sort.Ints(mins)
	out := make([]string, len(mins))
	for i, m := range mins {
		out[i] = formatClock(m)
	}
	return out, nil
}

// ParseDate returns local midnight of a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, loc)
}

// SlotStart places a time of day on day. Wall-clock construction keeps slots
// correct across DST changes.
func SlotStart(day time.Time, clock string) (time.Time, error) {
	m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, m/60, m%60, 0, 0, day.Location()), nil
}

// ComputeAvailability splits template into free and taken slots. A slot is
// taken when its start falls inside an active appointment.
func ComputeAvailability(template []string, day time.Time, appts []*Appointment) (available, booked []string) {
	available = []string{}
	booked = []string{}
	for _, clock := range template {
		start, err := SlotStart(day, clock)
		if err != nil {
			continue
		}
		taken := false
		for _, a := range appts {
			if IsActive(a.Status) && a.Covers(start) {
				taken = true
				break
			}
		}
		if taken {
			booked = append(booked, clock)
		} else {
			available = append(available, clock)
		}
	}
	return available, booked
}
