package schedule

import (
	"sort"
	"time"
)

// Civil-time policy for DST transitions, applied by startOnDate:
//
//   - A nonexistent wall-clock time (spring-forward gap) is shifted forward
//     by the width of the gap, e.g. 02:30 during a 02:00->03:00 transition
//     becomes 03:30.
//   - An ambiguous wall-clock time (fall-back overlap) resolves to the first
//     occurrence, i.e. the earlier instant.
//
// The wall clock is authoritative: occurrences a week apart are 7*24h apart
// only when no transition lies between them.

// startOnDate returns the occurrence start at the event's time-of-day on the
// given civil date in loc. time.Date gives no guarantee for ambiguous wall
// clocks, so the earlier-instant choice is enforced here rather than assumed.
func startOnDate(e EventDefinition, y int, mo time.Month, d int, loc *time.Location) time.Time {
	h, m := e.clock()
	t := time.Date(y, mo, d, h, m, 0, 0, loc)
	if earlier := t.Add(-time.Hour); sameWallClock(earlier, t) {
		t = earlier
	}
	return t
}

func sameWallClock(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// Occurrences returns every occurrence start of e whose reminder window
// [start - maxOffset, start + max(duration, tail)] contains ref, in
// ascending order.
//
// tail keeps a just-ended occurrence visible a little longer: the evaluator
// passes its poll period so the start announcement of a short or
// zero-duration event still has a window for the tick that fires it.
//
// Candidates are bounded to a 7-day lookback/lookahead: per weekday the most
// recent past-or-present date and the immediate next one. Checking both sides
// keeps windows that span a midnight or weekday boundary visible.
func Occurrences(e EventDefinition, ref time.Time, loc *time.Location, tail time.Duration) []time.Time {
	refLocal := ref.In(loc)
	y, mo, d := refLocal.Date()
	today := time.Date(y, mo, d, 0, 0, 0, 0, loc)

	lead := time.Duration(e.MaxOffset()) * time.Minute
	dur := time.Duration(e.DurationMin) * time.Minute
	if tail > dur {
		dur = tail
	}

	var out []time.Time
	for _, wd := range e.Weekdays {
		back := (int(refLocal.Weekday()) - int(wd) + 7) % 7
		recent := today.AddDate(0, 0, -back)
		next := recent.AddDate(0, 0, 7)

		for _, day := range [2]time.Time{recent, next} {
			start := startOnDate(e, day.Year(), day.Month(), day.Day(), loc)
			if !ref.Before(start.Add(-lead)) && !ref.After(start.Add(dur)) {
				out = append(out, start)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return dedupTimes(out)
}

// Next returns the earliest occurrence start >= ref. Since the weekday set is
// non-empty, a start always exists within the next 7 days.
func Next(e EventDefinition, ref time.Time, loc *time.Location) time.Time {
	refLocal := ref.In(loc)
	y, mo, d := refLocal.Date()
	today := time.Date(y, mo, d, 0, 0, 0, 0, loc)

	var best time.Time
	for _, wd := range e.Weekdays {
		ahead := (int(wd) - int(refLocal.Weekday()) + 7) % 7
		day := today.AddDate(0, 0, ahead)
		start := startOnDate(e, day.Year(), day.Month(), day.Day(), loc)
		if start.Before(ref) {
			// Today's start already passed; the next one is a week out.
			day = day.AddDate(0, 0, 7)
			start = startOnDate(e, day.Year(), day.Month(), day.Day(), loc)
		}
		if best.IsZero() || start.Before(best) {
			best = start
		}
	}
	return best
}

func dedupTimes(ts []time.Time) []time.Time {
	if len(ts) < 2 {
		return ts
	}
	out := ts[:1]
	for _, t := range ts[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
