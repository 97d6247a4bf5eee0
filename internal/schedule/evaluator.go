package schedule

import (
	"context"
	"time"

	"raidherald/pkg/logx"
)

// Evaluator computes the set of reminders due at a given instant.
//
// A reminder is due when its fire instant (occurrence start minus offset)
// falls within [now - 0, now + pollPeriod), i.e. it fires on the first
// evaluation at or after the fire instant, and the post-log has no entry for
// it yet. Due reminders are committed to the post-log before they are
// returned (commit-then-notify): a crash between commit and send costs one
// reminder, never duplicates one.
type Evaluator struct {
	log        logx.Logger
	postlog    *PostLog
	loc        *time.Location
	pollPeriod time.Duration
}

func NewEvaluator(postlog *PostLog, loc *time.Location, pollPeriod time.Duration, log logx.Logger) *Evaluator {
	if pollPeriod <= 0 {
		pollPeriod = 30 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{log: log, postlog: postlog, loc: loc, pollPeriod: pollPeriod}
}

// CollectDue evaluates all communities as of now.
//
// Errors local to one reminder (post-log read/write failures) skip that
// reminder only; the rest of the pass continues. A reminder that cannot be
// committed is not returned: without a durable post-log entry a send could
// be duplicated after a restart, and a missed reminder is the accepted
// failure mode.
func (ev *Evaluator) CollectDue(ctx context.Context, comms []CommunityEvents, now time.Time) []DueReminder {
	var due []DueReminder
	for _, c := range comms {
		if c.AnnounceChatID == 0 || len(c.Events) == 0 {
			continue
		}
		for _, e := range c.Events {
			for _, start := range Occurrences(e, now, ev.loc, ev.pollPeriod) {
				for _, offset := range e.Offsets {
					fire := start.Add(-time.Duration(offset) * time.Minute)
					if now.Before(fire) || !now.Before(fire.Add(ev.pollPeriod)) {
						continue
					}

					key := PostKey(c.ChatID, e.Name, start, offset)
					added, err := ev.postlog.Record(ctx, key, start)
					if err != nil {
						ev.log.Error("post-log commit failed; reminder skipped",
							logx.String("key", key), logx.Err(err))
						continue
					}
					if !added {
						continue
					}

					due = append(due, DueReminder{
						ChatID:           c.ChatID,
						AnnounceChatID:   c.AnnounceChatID,
						AnnounceThreadID: c.AnnounceThreadID,
						Event:            e,
						OccurrenceStart:  start,
						OffsetMin:        offset,
					})
				}
			}
		}
	}
	return due
}
