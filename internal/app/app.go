// Package app wires configuration, logging, storage, transport and the
// reminder service together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"raidherald/internal/commands"
	"raidherald/internal/community"
	"raidherald/internal/config"
	"raidherald/internal/reminder"
	"raidherald/internal/runtime/supervisor"
	"raidherald/internal/schedule"
	"raidherald/internal/storage"
	"raidherald/internal/transport"
	"raidherald/internal/transport/telegram"
	"raidherald/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter transport.Adapter
	store   storage.Store

	comms   *community.Store
	postlog *schedule.PostLog
	rem     *reminder.Service
	router  *commands.Router

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	remCfg, err := buildReminderConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	comms := community.NewStore(st, logSvc.Logger().With(logx.String("comp", "communities")))
	postlog := schedule.NewPostLog(st, remCfg.Retention)

	rem := reminder.New(remCfg, reminder.Deps{
		Adapter:     ad,
		Communities: comms,
		PostLog:     postlog,
		Store:       st,
	}, logSvc.Logger().With(logx.String("comp", "reminder")))

	router := commands.NewRouter(commands.Deps{
		Adapter:     ad,
		Communities: comms,
		Location:    rem.Location,
	}, cfg.Telegram.AdminUserIDs, logSvc.Logger().With(logx.String("comp", "commands")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   st,
		comms:   comms,
		postlog: postlog,
		rem:     rem,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := buildReminderConfig(cfg); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		return nil
	})

	if err := a.comms.Load(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.rem.Enabled() {
		a.rem.Start(a.sup.Context())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.router.SetAdmins(cfg.Telegram.AdminUserIDs)

	remCfg, err := buildReminderConfig(cfg)
	if err != nil {
		// Validator should have rejected this; keep the old settings.
		a.log.Warn("reminder config invalid on reload; keeping previous", logx.Err(err))
		return
	}
	prevEnabled := a.rem.Enabled()
	a.postlog.SetRetention(remCfg.Retention)
	a.rem.Apply(remCfg)
	switch {
	case prevEnabled && !remCfg.Enabled:
		a.log.Info("reminder loop disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.rem.Stop(stopCtx)
		cancel()
	case !prevEnabled && remCfg.Enabled:
		a.log.Info("reminder loop enabled via config")
		a.rem.Start(ctx)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("reminder", 3*time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func buildReminderConfig(cfg *config.Config) (reminder.Config, error) {
	pollPeriod, err := config.ParseDurationOrDefault("reminder.poll_period", cfg.Reminder.PollPeriod, 30*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("reminder.send_timeout", cfg.Reminder.SendTimeout, 10*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("reminder.retention", cfg.Reminder.Retention, 48*time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	if tz := strings.TrimSpace(cfg.Reminder.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return reminder.Config{}, fmt.Errorf("reminder.timezone: invalid %q: %w", tz, err)
		}
	}
	if at := strings.TrimSpace(cfg.Reminder.PruneAt); at != "" {
		if _, _, err := schedule.ParseHHMM(at); err != nil {
			return reminder.Config{}, fmt.Errorf("reminder.prune_at: %w", err)
		}
	}
	return reminder.Config{
		Enabled:     cfg.Reminder.Enabled,
		PollPeriod:  pollPeriod,
		Timezone:    cfg.Reminder.Timezone,
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Reminder.RatePerSec,
		Retention:   retention,
		PruneAt:     cfg.Reminder.PruneAt,
	}, nil
}
