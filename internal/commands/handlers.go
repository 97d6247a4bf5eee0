package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"raidherald/internal/schedule"
	"raidherald/internal/transport"
)

func (r *Router) registerBuiltins() {
	r.register(&Command{
		Name:        "setchannel",
		Description: "Set the announce target for reminders",
		Usage:       "/setchannel [chat_id]",
		AdminOnly:   true,
		Handle:      r.cmdSetChannel,
	})
	r.register(&Command{
		Name:        "addevent",
		Description: "Add or replace a recurring event",
		Usage:       `/addevent "<name>" <weekdays> <HH:MM> <duration_min> [offsets] [mention]`,
		AdminOnly:   true,
		Handle:      r.cmdAddEvent,
	})
	r.register(&Command{
		Name:        "delevent",
		Description: "Remove an event by name",
		Usage:       `/delevent "<name>"`,
		AdminOnly:   true,
		Handle:      r.cmdDelEvent,
	})
	r.register(&Command{
		Name:        "events",
		Description: "List configured events",
		Usage:       "/events",
		Handle:      r.cmdListEvents,
	})
	r.register(&Command{
		Name:        "testping",
		Description: "Send a test ping for an event (no schedule check)",
		Usage:       `/testping "<name>"`,
		AdminOnly:   true,
		Handle:      r.cmdTestPing,
	})
	r.register(&Command{
		Name:        "help",
		Description: "Show available commands",
		Usage:       "/help",
		Handle:      r.cmdHelp,
	})
}

func (r *Router) cmdSetChannel(ctx context.Context, req *Request) error {
	cmd := r.cmds["setchannel"]
	target := req.Chat
	switch len(req.Args) {
	case 0:
		// Announce into the chat (and thread) the command was issued in.
	case 1:
		id, err := strconv.ParseInt(req.Args[0], 10, 64)
		if err != nil {
			return usageError(cmd)
		}
		target = transport.ChatTarget{ChatID: id}
	default:
		return usageError(cmd)
	}

	if err := r.deps.Communities.SetAnnounceTarget(ctx, req.Chat.ChatID, target.ChatID, target.ThreadID); err != nil {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("✅ Announce target set to chat %d.", target.ChatID))
	return nil
}

func (r *Router) cmdAddEvent(ctx context.Context, req *Request) error {
	cmd := r.cmds["addevent"]
	if len(req.Args) < 4 {
		return usageError(cmd)
	}
	name := strings.TrimSpace(req.Args[0])

	days, err := schedule.ParseWeekdays(req.Args[1])
	if err != nil {
		return err
	}
	if _, _, err := schedule.ParseHHMM(req.Args[2]); err != nil {
		return err
	}
	durMin, err := strconv.Atoi(req.Args[3])
	if err != nil || durMin < 0 {
		return fmt.Errorf("invalid duration %q (minutes)", req.Args[3])
	}

	var offsets []int
	if len(req.Args) >= 5 {
		offsets, err = schedule.ParseOffsets(req.Args[4])
		if err != nil {
			return err
		}
	}
	mention := ""
	if len(req.Args) >= 6 {
		mention = strings.Join(req.Args[5:], " ")
	}

	ev := schedule.EventDefinition{
		Name:        name,
		Weekdays:    days,
		Start:       req.Args[2],
		DurationMin: durMin,
		Offsets:     offsets,
		Mention:     mention,
	}
	if err := schedule.ValidateEvent(ev); err != nil {
		return err
	}
	if err := r.deps.Communities.UpsertEvent(ctx, req.Chat.ChatID, ev); err != nil {
		return err
	}

	r.reply(ctx, req, fmt.Sprintf("✅ Event %s added: %s %s, %d min, pre %s.",
		ev.Name, schedule.FormatWeekdays(ev.Weekdays), ev.Start, ev.DurationMin, formatOffsets(ev.Offsets)))
	return nil
}

func (r *Router) cmdDelEvent(ctx context.Context, req *Request) error {
	cmd := r.cmds["delevent"]
	if len(req.Args) != 1 {
		return usageError(cmd)
	}
	name := req.Args[0]
	removed, err := r.deps.Communities.RemoveEvent(ctx, req.Chat.ChatID, name)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("event %q not found", name)
	}
	r.reply(ctx, req, fmt.Sprintf("✅ Event %s removed.", name))
	return nil
}

func (r *Router) cmdListEvents(ctx context.Context, req *Request) error {
	c, ok := r.deps.Communities.Get(req.Chat.ChatID)
	if !ok || len(c.Events) == 0 {
		r.reply(ctx, req, "ℹ️ No events configured. Use /addevent.")
		return nil
	}

	loc := r.deps.Location()
	now := time.Now()

	keys := make([]string, 0, len(c.Events))
	for k := range c.Events {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		ev := c.Events[k]
		next := schedule.Next(ev, now, loc)
		fmt.Fprintf(&b, "• %s — %s %s (%d min), pre %s, next %s\n",
			ev.Name, schedule.FormatWeekdays(ev.Weekdays), ev.Start, ev.DurationMin,
			formatOffsets(ev.Offsets), next.In(loc).Format("Mon 02 Jan 15:04"))
	}
	if c.AnnounceChatID == 0 {
		b.WriteString("⚠️ No announce target set; reminders are paused. Use /setchannel.")
	}
	r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) cmdTestPing(ctx context.Context, req *Request) error {
	cmd := r.cmds["testping"]
	if len(req.Args) != 1 {
		return usageError(cmd)
	}
	c, ok := r.deps.Communities.Get(req.Chat.ChatID)
	if !ok {
		return fmt.Errorf("no events configured")
	}
	ev, ok := c.Events[schedule.EventKey(req.Args[0])]
	if !ok {
		return fmt.Errorf("event %q not found", req.Args[0])
	}
	if c.AnnounceChatID == 0 {
		return fmt.Errorf("no announce target set; use /setchannel first")
	}

	text := strings.TrimSpace(fmt.Sprintf("🔔 %s — test ping %s", ev.Name, ev.Mention))
	to := transport.ChatTarget{ChatID: c.AnnounceChatID, ThreadID: c.AnnounceThreadID}
	if _, err := r.deps.Adapter.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true}); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	r.reply(ctx, req, "✅ Test ping sent.")
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	for _, name := range r.order {
		c := r.cmds[name]
		fmt.Fprintf(&b, "%s — %s\n", c.Usage, c.Description)
	}
	r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
	return nil
}

func formatOffsets(offsets []int) string {
	if len(offsets) == 0 {
		return "—"
	}
	parts := make([]string, 0, len(offsets))
	for _, o := range offsets {
		parts = append(parts, strconv.Itoa(o))
	}
	return strings.Join(parts, ",")
}
