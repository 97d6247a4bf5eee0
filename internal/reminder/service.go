// Package reminder drives the reminder poll loop: on a fixed cadence it
// collects due reminders from the evaluator and dispatches them to the chat
// adapter.
//
// The loop trades per-event timers for one coarse poll: a reminder fires on
// the first tick at or after its fire instant, so the poll period is the
// timing precision guarantee. Ticks run to completion before the next tick
// starts, which keeps evaluation passes serial by construction.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"raidherald/internal/community"
	"raidherald/internal/schedule"
	"raidherald/internal/storage"
	"raidherald/internal/transport"
	"raidherald/pkg/logx"
)

type Config struct {
	Enabled     bool
	PollPeriod  time.Duration
	Timezone    string // IANA TZ, e.g. "Europe/Berlin"
	SendTimeout time.Duration
	RatePerSec  int
	Retention   time.Duration
	PruneAt     string // "HH:MM", daily post-log prune (reminder timezone)
}

type Deps struct {
	Adapter     transport.Adapter
	Communities *community.Store
	PostLog     *schedule.PostLog
	Store       storage.Store
	Clock       clock.Clock // nil means wall clock
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	deps Deps
	clk  clock.Clock

	loc     *time.Location
	eval    *schedule.Evaluator
	limiter *rate.Limiter

	c      *cron.Cron
	stopCh chan struct{}
	loopWG sync.WaitGroup
	runCtx context.Context
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{cfg: cfg, deps: deps, clk: clk, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply installs a new config. If the loop is running and a tick-relevant
// knob changed, it is restarted in place.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := s.stopCh != nil &&
		(cfg.Timezone != s.cfg.Timezone ||
			cfg.PollPeriod != s.cfg.PollPeriod ||
			cfg.PruneAt != s.cfg.PruneAt)
	s.cfg = cfg
	s.limiter = newLimiter(cfg.RatePerSec)

	if restart {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		s.stopLocked(ctx)
		s.startLocked(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.runCtx = ctx

	s.loc = s.loadLocationLocked()
	period := s.cfg.PollPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	if s.limiter == nil {
		s.limiter = newLimiter(s.cfg.RatePerSec)
	}
	s.eval = schedule.NewEvaluator(s.deps.PostLog, s.loc, period, s.log)

	// Daily post-log prune in the configured zone.
	pruneAt := strings.TrimSpace(s.cfg.PruneAt)
	if pruneAt == "" {
		pruneAt = "04:30"
	}
	s.c = cron.New(cron.WithLocation(s.loc))
	if h, m, err := schedule.ParseHHMM(pruneAt); err == nil {
		spec := fmt.Sprintf("%d %d * * *", m, h)
		_, _ = s.c.AddFunc(spec, func() { s.prune(ctx) })
	} else {
		s.log.Warn("invalid prune_at; prune disabled", logx.String("prune_at", pruneAt), logx.Err(err))
	}
	s.c.Start()

	stopCh := s.stopCh
	s.loopWG.Add(1)
	go s.loop(ctx, stopCh, period)

	s.log.Info("reminder loop started",
		logx.Duration("poll_period", period), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}

	done := make(chan struct{})
	go func() {
		s.loopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("reminder loop stop timed out", logx.Err(ctx.Err()))
		return
	}
	s.log.Info("reminder loop stopped")
}

func (s *Service) loop(ctx context.Context, stopCh chan struct{}, period time.Duration) {
	defer s.loopWG.Done()

	ticker := s.clk.Ticker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one evaluation pass and dispatches every newly-due reminder.
// It returns only after all sends of this pass have finished or timed out.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	eval := s.eval
	loc := s.loc
	limiter := s.limiter
	sendTimeout := s.cfg.SendTimeout
	s.mu.Unlock()
	if eval == nil {
		return
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}

	now := s.clk.Now()
	due := eval.CollectDue(ctx, s.deps.Communities.Snapshot(), now)
	if len(due) == 0 {
		return
	}
	s.log.Debug("reminders due", logx.Int("count", len(due)))

	// Post-log commitment already happened inside CollectDue, so sends can
	// run concurrently; one slow or failing send must not delay the others.
	var wg sync.WaitGroup
	for _, d := range due {
		wg.Add(1)
		go func(d schedule.DueReminder) {
			defer wg.Done()
			s.send(ctx, d, loc, limiter, sendTimeout)
		}(d)
	}
	wg.Wait()
}

// send delivers one reminder. Failures are logged and journaled, never
// retried: the post-log entry is already committed and a retry could turn
// at-most-once into at-least-once.
func (s *Service) send(ctx context.Context, d schedule.DueReminder, loc *time.Location, limiter *rate.Limiter, timeout time.Duration) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if limiter != nil {
		if err := limiter.Wait(sctx); err != nil {
			s.journal(ctx, d, time.Time{}, err)
			return
		}
	}

	start := time.Now()
	to := transport.ChatTarget{ChatID: d.AnnounceChatID, ThreadID: d.AnnounceThreadID}
	_, err := s.deps.Adapter.SendText(sctx, to, FormatReminder(d, loc), &transport.SendOptions{DisablePreview: true})
	s.journal(ctx, d, start, err)

	if err != nil {
		s.log.Warn("reminder send failed",
			logx.Int64("chat_id", d.AnnounceChatID),
			logx.String("event", d.Event.Name),
			logx.Time("occurrence", d.OccurrenceStart),
			logx.Int("offset_min", d.OffsetMin),
			logx.Err(err))
		return
	}
	s.log.Info("reminder sent",
		logx.Int64("chat_id", d.AnnounceChatID),
		logx.String("event", d.Event.Name),
		logx.Int("offset_min", d.OffsetMin))
}

func (s *Service) journal(ctx context.Context, d schedule.DueReminder, started time.Time, sendErr error) {
	if s.deps.Store == nil {
		return
	}
	r := storage.SentRecord{
		At:              time.Now(),
		ChatID:          d.ChatID,
		EventName:       d.Event.Name,
		OccurrenceStart: d.OccurrenceStart,
		OffsetMin:       d.OffsetMin,
		OK:              sendErr == nil,
	}
	if !started.IsZero() {
		r.TookMS = time.Since(started).Milliseconds()
	}
	if sendErr != nil {
		r.Error = sendErr.Error()
	}
	if err := s.deps.Store.AppendSent(ctx, r); err != nil {
		s.log.Debug("sent journal append failed", logx.Err(err))
	}
}

func (s *Service) prune(ctx context.Context) {
	n, err := s.deps.PostLog.Prune(ctx, s.clk.Now())
	if err != nil {
		s.log.Warn("post-log prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("post-log pruned", logx.Int("removed", n))
	}
}

// Location returns the zone the service interprets event times in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		tz = "Europe/Berlin"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		perSec = 5
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}
