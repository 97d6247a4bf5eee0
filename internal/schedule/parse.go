package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// dowAliases maps user input to weekdays. Numeric input follows the common
// gaming-community convention 0=Mon..6=Sun, not Go's Sunday-first numbering.
var dowAliases = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday, "0": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "1": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "2": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "3": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "4": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "5": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday, "6": time.Sunday,
}

var dowNames = map[time.Weekday]string{
	time.Monday: "Mon", time.Tuesday: "Tue", time.Wednesday: "Wed",
	time.Thursday: "Thu", time.Friday: "Fri", time.Saturday: "Sat",
	time.Sunday: "Sun",
}

// EventKey normalizes an event name for identity comparisons and post-log keys.
func EventKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseWeekdays parses a comma list like "Mon,Wed,Sat" or "0,3,5" (0=Mon..6=Sun).
// The result is deduplicated and sorted Monday-first.
func ParseWeekdays(s string) ([]time.Weekday, error) {
	seen := map[time.Weekday]bool{}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, ok := dowAliases[part]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q (use Mon..Sun or 0..6, 0=Mon)", part)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no weekdays given")
	}
	sort.Slice(days, func(i, j int) bool { return mondayFirst(days[i]) < mondayFirst(days[j]) })
	return days, nil
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// FormatWeekdays renders a weekday set as "Mon,Thu".
func FormatWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, dowNames[d])
	}
	return strings.Join(parts, ",")
}

// ParseHHMM parses a 24h "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ParseOffsets parses a comma list of reminder offsets in minutes, e.g.
// "30,10,0". Offsets are deduplicated and sorted largest-first (firing order).
// An empty string yields an empty list.
func ParseOffsets(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	seen := map[int]bool{}
	var mins []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q", part)
		}
		if n < 0 {
			return nil, fmt.Errorf("offset must be >= 0, got %d", n)
		}
		if !seen[n] {
			seen[n] = true
			mins = append(mins, n)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(mins)))
	return mins, nil
}

// ValidateEvent checks a definition against the invariants stored definitions
// must satisfy. Called at the configuration boundary only.
func ValidateEvent(e EventDefinition) error {
	if EventKey(e.Name) == "" {
		return fmt.Errorf("event name is empty")
	}
	if len(e.Weekdays) == 0 {
		return fmt.Errorf("event %q: weekday set is empty", e.Name)
	}
	if _, _, err := ParseHHMM(e.Start); err != nil {
		return fmt.Errorf("event %q: %w", e.Name, err)
	}
	if e.DurationMin < 0 {
		return fmt.Errorf("event %q: duration must be >= 0", e.Name)
	}
	seen := map[int]bool{}
	for _, o := range e.Offsets {
		if o < 0 {
			return fmt.Errorf("event %q: offset must be >= 0", e.Name)
		}
		if seen[o] {
			return fmt.Errorf("event %q: duplicate offset %d", e.Name, o)
		}
		seen[o] = true
	}
	return nil
}
