package staff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/medmitra/medmitra/internal/platform/apperr"
)

// clockMinutes parses "HH:MM" into minutes after midnight.
func clockMinutes(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// NormalizeSectionOrder validates a doctor's ordering and appends the
// sections they left out in default order.
func NormalizeSectionOrder(order []string) ([]string, error) {
	known := make(map[string]bool, len(DefaultSectionOrder))
	for _, s := range DefaultSectionOrder {
		known[s] = true
	}
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(DefaultSectionOrder))
	for _, s := range order {
		if !known[s] {
			return nil, apperr.Invalid("unknown section %q", s)
		}
		if seen[s] {
			return nil, apperr.Invalid("duplicate section %q", s)
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range DefaultSectionOrder {
		if !seen[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// ValidateRules checks each rule and rejects overlaps on the same weekday.
func ValidateRules(rules []AvailabilityRule) error {
	type span struct{ start, end int }
	byDay := make(map[int][]span)
	for i, r := range rules {
		if r.Weekday < 0 || r.Weekday > 6 {
			return apperr.Invalid("rule %d: weekday must be 0-6", i)
		}
		start, err := clockMinutes(r.StartTime)
		if err != nil {
			return apperr.Invalid("rule %d: %v", i, err)
		}
		end, err := clockMinutes(r.EndTime)
		if err != nil {
			return apperr.Invalid("rule %d: %v", i, err)
		}
		if start >= end {
			return apperr.Invalid("rule %d: start_time must be before end_time", i)
		}
		if r.SlotMinutes < 5 || r.SlotMinutes > 120 {
			return apperr.Invalid("rule %d: slot_minutes must be 5-120", i)
		}
		if end-start < r.SlotMinutes {
			return apperr.Invalid("rule %d: window shorter than one slot", i)
		}
		byDay[r.Weekday] = append(byDay[r.Weekday], span{start, end})
	}
	for day, spans := range byDay {
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		for i := 1; i < len(spans); i++ {
			if spans[i].start < spans[i-1].end {
				return apperr.Invalid("overlapping rules on weekday %d", day)
			}
		}
	}
	return nil
}

// GenerateSlots expands the rules for one calendar day in loc. Slots whose
// start is in booked are unavailable; slots starting before now are dropped.
func GenerateSlots(rules []AvailabilityRule, day time.Time, loc *time.Location, booked map[int64]bool, now time.Time) []Slot {
	y, m, d := day.Date()
	weekday := int(time.Date(y, m, d, 12, 0, 0, 0, loc).Weekday())
	var slots []Slot
	for _, r := range rules {
		if r.Weekday != weekday || r.SlotMinutes <= 0 {
			continue
		}
		start, err1 := clockMinutes(r.StartTime)
		end, err2 := clockMinutes(r.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}
		for t := start; t+r.SlotMinutes <= end; t += r.SlotMinutes {
			s := time.Date(y, m, d, t/60, t%60, 0, 0, loc)
			if s.Before(now) {
				continue
			}
			slots = append(slots, Slot{
				Start:     s,
				End:       s.Add(time.Duration(r.SlotMinutes) * time.Minute),
				Available: !booked[s.Unix()],
			})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

// SlotAt returns the slot of rules that begins exactly at start.
func SlotAt(rules []AvailabilityRule, start time.Time, loc *time.Location) (Slot, bool) {
	local := start.In(loc)
	for _, s := range GenerateSlots(rules, local, loc, nil, time.Time{}) {
		if s.Start.Equal(start) {
			return s, true
		}
	}
	return Slot{}, false
}
