package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cronkeeper/internal/agent"
	"cronkeeper/internal/config"
	"cronkeeper/internal/httpapi"
	"cronkeeper/internal/invoke"
	"cronkeeper/internal/keeper"
	"cronkeeper/internal/registry"
	"cronkeeper/internal/runtime/supervisor"
	"cronkeeper/internal/storage"
	logx "cronkeeper/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	reg     *registry.Registry
	router  *invoke.Router
	breaker *invoke.Breaker
	tg      *invoke.Telegram
	systemd *invoke.Systemd
	keeper  *keeper.Keeper
	agent   *agent.Service
	api     *httpapi.Server
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(cfgPath string, env config.Env) (*App, error) {
	cfgm := config.NewManager(cfgPath, env)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	var (
		tg     *invoke.Telegram
		sender logx.Sender
	)
	if cfg.Telegram.Enabled {
		tg, err = invoke.NewTelegram(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = tg
	}

	logSvc, log := logx.New(mapLogging(cfg), sender)

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := registry.New(
		registry.WithMaxJobs(cfg.Registry.MaxJobs),
		registry.WithStore(store),
		registry.WithLogger(log),
	)

	router := invoke.NewRouter()
	router.Handle("log", invoke.NewLog(log))
	if tg != nil {
		router.Handle("telegram", tg)
	}
	var sd *invoke.Systemd
	if cfg.Systemd.Enabled {
		sd = invoke.NewSystemd(cfg.Systemd.Units)
		router.Handle("systemd", sd)
	}

	durs, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	breaker := invoke.NewBreaker(router, mapBreaker(cfg, durs))
	kp := keeper.New(reg, breaker,
		keeper.WithStore(store),
		keeper.WithLogger(log),
		keeper.WithInvokeTimeout(durs.InvokeTimeout),
	)
	ag := agent.New(mapAgent(cfg), kp, log)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		store:   store,
		reg:     reg,
		router:  router,
		breaker: breaker,
		tg:      tg,
		systemd: sd,
		keeper:  kp,
		agent:   ag,
	}
	if cfg.HTTP.Enabled {
		deps := httpapi.Deps{
			Registry: reg,
			Keeper:   kp,
			Targets:  router,
			Agent:    ag,
			Store:    store,
			Circuits: breaker,
			Runtime:  a,
		}
		a.api = httpapi.New(httpapi.Config{Addr: cfg.HTTP.Addr, Token: cfg.HTTP.Token}, deps, log)
	}
	return a, nil
}

func (a *App) Registry() *registry.Registry { return a.reg }

func (a *App) Keeper() *keeper.Keeper { return a.keeper }

// Snapshot reports the supervised goroutines; it is empty before Start.
func (a *App) Snapshot() supervisor.Snapshot {
	if a.sup == nil {
		return supervisor.Snapshot{}
	}
	return a.sup.Snapshot()
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.reg.Restore(runCtx); err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	n, err := a.reg.Seed(runCtx, mapDefinitions(a.cfgm.Get()))
	if err != nil {
		return fmt.Errorf("seed jobs: %w", err)
	}
	a.log.Info("registry ready",
		logx.Int("jobs", a.reg.Len()),
		logx.Int("seeded", n),
		logx.Int64("last_id", a.reg.LastID()),
		logx.Any("schemes", a.router.Schemes()),
	)

	if err := a.agent.Start(runCtx); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if a.api != nil {
		a.sup.Go("http", a.api.Run)
	}
	// Only hot reload depends on the watcher, so a crash restarts it rather
	// than stopping the process.
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, time.Minute)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("started")
	return nil
}

// reloadLoop applies hot-reloadable sections. Sections that need new
// connections or listeners only log that a restart is required.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeChange(last, cfg)
			last = cfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			if r := config.RestartRequired(sections); len(r) > 0 {
				a.log.Warn("restart required for changes to take effect", logx.String("sections", strings.Join(r, ",")))
			}

			a.logs.Apply(mapLogging(cfg))
			a.reg.SetMaxJobs(cfg.Registry.MaxJobs)
			if durs, err := cfg.Durations(); err == nil {
				a.breaker.SetConfig(mapBreaker(cfg, durs))
			}
			if a.systemd != nil {
				a.systemd.SetAllowed(cfg.Systemd.Units)
			}
			if err := a.agent.Apply(mapAgent(cfg)); err != nil {
				a.log.Error("agent reload failed", logx.Err(err))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step(ctx, a.log, "agent", 5*time.Second, func(c context.Context) error { a.agent.Stop(c); return nil })
	step(ctx, a.log, "supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step(ctx, a.log, "systemd", time.Second, func(c context.Context) error {
		if a.systemd != nil {
			a.systemd.Close()
		}
		return nil
	})
	step(ctx, a.log, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and by ctx's deadline. A step
// that overruns is left running and logged when it finally returns.
func step(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
