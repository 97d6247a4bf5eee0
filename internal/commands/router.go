// Package commands parses and dispatches the bot's configuration commands.
// All input validation happens here; invalid definitions never reach the
// stored state.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"raidherald/internal/community"
	"raidherald/internal/transport"
	"raidherald/pkg/logx"
)

type Command struct {
	Name        string
	Description string
	Usage       string

	// AdminOnly commands require the sender to be a chat admin (or a
	// configured global admin).
	AdminOnly bool

	Handle func(ctx context.Context, req *Request) error
}

type Request struct {
	Msg  *transport.Message
	Chat transport.ChatTarget
	Args []string
}

type Deps struct {
	Adapter     transport.Adapter
	Communities *community.Store
	Location    func() *time.Location
}

type Router struct {
	log  logx.Logger
	deps Deps

	mu     sync.Mutex
	admins map[int64]bool

	cmds  map[string]*Command
	order []string
}

func NewRouter(deps Deps, adminIDs []int64, log logx.Logger) *Router {
	r := &Router{
		log:    log,
		deps:   deps,
		admins: toSet(adminIDs),
		cmds:   map[string]*Command{},
	}
	r.registerBuiltins()
	return r
}

// SetAdmins replaces the global admin list (config hot reload).
func (r *Router) SetAdmins(ids []int64) {
	r.mu.Lock()
	r.admins = toSet(ids)
	r.mu.Unlock()
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (r *Router) register(c *Command) {
	r.cmds[c.Name] = c
	r.order = append(r.order, c.Name)
}

// DispatchLoop consumes updates until ctx is canceled.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message != nil {
				r.handleMessage(ctx, up.Message)
			}
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	name, args, ok := splitCommand(m.Text)
	if !ok {
		return
	}
	cmd := r.cmds[name]
	if cmd == nil {
		return
	}

	req := &Request{
		Msg:  m,
		Chat: transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		Args: args,
	}

	hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if cmd.AdminOnly && !r.isAdmin(hctx, m) {
		r.reply(hctx, req, "❌ You need chat admin rights for this command.")
		return
	}

	if err := cmd.Handle(hctx, req); err != nil {
		r.log.Warn("command failed",
			logx.String("cmd", cmd.Name),
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("from_id", m.FromID),
			logx.Err(err))
		r.reply(hctx, req, "❌ "+err.Error())
	}
}

func (r *Router) isAdmin(ctx context.Context, m *transport.Message) bool {
	r.mu.Lock()
	global := r.admins[m.FromID]
	r.mu.Unlock()
	if global {
		return true
	}
	if !m.IsGroup {
		// Private chats: the sender configures their own reminders.
		return true
	}
	ok, err := r.deps.Adapter.IsChatAdmin(ctx, m.ChatID, m.FromID)
	if err != nil {
		r.log.Debug("admin check failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return false
	}
	return ok
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	if err != nil {
		r.log.Debug("reply failed", logx.Int64("chat_id", req.Chat.ChatID), logx.Err(err))
	}
}

// splitCommand extracts "/name args..." from a message text. A "@botname"
// suffix on the command is stripped. Args are quote-aware:
//
//	/addevent "Dimensional Rift" Mon,Thu 20:00 60 30,10
func splitCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	tokens := tokenize(text[1:])
	if len(tokens) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(tokens[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, tokens[1:], true
}

// tokenize splits on whitespace while honoring double quotes.
func tokenize(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		have   bool
	)
	flush := func() {
		if have {
			out = append(out, cur.String())
			cur.Reset()
			have = false
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			have = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	flush()
	return out
}

func usageError(c *Command) error {
	return fmt.Errorf("usage: %s", c.Usage)
}
