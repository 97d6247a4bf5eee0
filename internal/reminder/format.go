package reminder

import (
	"fmt"
	"strings"
	"time"

	"raidherald/internal/schedule"
)

// FormatReminder renders the announcement text for one due reminder.
// Times are shown as wall clock in the configured zone.
func FormatReminder(d schedule.DueReminder, loc *time.Location) string {
	start := d.OccurrenceStart.In(loc)

	var b strings.Builder
	if d.OffsetMin > 0 {
		fmt.Fprintf(&b, "⏳ %s starts in %d min (%s).", d.Event.Name, d.OffsetMin, start.Format("15:04"))
	} else {
		end := start.Add(time.Duration(d.Event.DurationMin) * time.Minute)
		fmt.Fprintf(&b, "🚀 %s is live now! Runs until %s.", d.Event.Name, end.Format("15:04"))
	}
	if m := strings.TrimSpace(d.Event.Mention); m != "" {
		b.WriteString(" ")
		b.WriteString(m)
	}
	return b.String()
}
