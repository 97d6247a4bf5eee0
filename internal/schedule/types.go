package schedule

import (
	"fmt"
	"time"
)

// EventDefinition is one recurring weekly event of a community.
//
// Stored definitions are assumed valid: weekday set non-empty, Start a valid
// "HH:MM", offsets distinct. Validation happens at the command boundary
// (see Parse* helpers); the evaluator never re-validates.
type EventDefinition struct {
	Name string `json:"name"`

	// Weekdays uses Go's time.Weekday numbering (Sunday = 0).
	Weekdays []time.Weekday `json:"weekdays"`

	// Start is the wall-clock start "HH:MM" in the configured zone.
	Start string `json:"start"`

	DurationMin int `json:"duration_min"`

	// Offsets are minutes before start at which to remind, largest first.
	// 0 means "announce at event start".
	Offsets []int `json:"pre_reminders"`

	// Mention is prepended text for the announcement (e.g. "@raiders").
	Mention string `json:"mention,omitempty"`
}

// MaxOffset returns the largest configured offset in minutes (0 if none).
func (e EventDefinition) MaxOffset() int {
	max := 0
	for _, o := range e.Offsets {
		if o > max {
			max = o
		}
	}
	return max
}

func (e EventDefinition) clock() (hour, minute int) {
	h, m, err := ParseHHMM(e.Start)
	if err != nil {
		return 0, 0
	}
	return h, m
}

// CommunityEvents is the evaluator's read-only view of one community.
type CommunityEvents struct {
	ChatID           int64
	AnnounceChatID   int64
	AnnounceThreadID int
	Events           []EventDefinition
}

// DueReminder is one reminder whose fire instant has arrived and which has
// been committed to the post-log but not yet sent.
type DueReminder struct {
	ChatID           int64
	AnnounceChatID   int64
	AnnounceThreadID int
	Event            EventDefinition
	OccurrenceStart  time.Time
	OffsetMin        int
}

// PostKey is the composite identity of one (community, event, occurrence,
// offset) reminder in the post-log.
func PostKey(chatID int64, eventName string, occurrenceStart time.Time, offsetMin int) string {
	return fmt.Sprintf("%d:%s:%s:pre%d",
		chatID, EventKey(eventName), occurrenceStart.Format(time.RFC3339), offsetMin)
}
