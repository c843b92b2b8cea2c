package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbot/internal/config"
	"slotbot/internal/dedup"
	"slotbot/internal/eventbus"
	"slotbot/internal/notifier"
	"slotbot/internal/observability/ops"
	"slotbot/internal/poller"
	rtsup "slotbot/internal/runtime/supervisor"
	"slotbot/internal/storage"
	"slotbot/internal/task/scheduler"
	"slotbot/internal/transport"
	telegram "slotbot/internal/transport/telegram/adapter"
	"slotbot/internal/upstream"
	logx "slotbot/pkg/logx"
	"slotbot/pkg/tgui"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  storage.Store
	sender transport.Sender

	pool       *upstream.CredentialPool
	client     *upstream.Client
	gate       *dedup.Gate
	dispatcher *notifier.Dispatcher
	loop       *poller.Loop
	sched      *scheduler.Service
	ops        *ops.Server
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnv(o.getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rt, err := cfg.Runtime()
	if err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		ad, err := telegram.New(telegram.Config{
			Token: cfg.Telegram.Token,
			URL:   cfg.Telegram.APIURL,
		}, logx.NewConsole("INFO").With(logx.Comp("telegram")))
		if err != nil {
			return nil, err
		}
		sender = ad
	}

	// Bootstrap with the chat sink off, set its target, then enable it, so
	// Apply never warns about a missing target.
	bootLogCfg := rt.Logging
	bootLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootLogCfg, sender)
	setLogTarget(logSvc, cfg)
	logSvc.Apply(rt.Logging)
	log = log.With(logx.Comp("app"))

	store, err := storage.Open(rt.Storage, log.With(logx.Comp("storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", rt.Storage.Driver))

	bus := eventbus.New()

	pool := upstream.NewCredentialPool(cfg.Credentials())
	var uopts []upstream.Option
	if o.httpClient != nil {
		uopts = append(uopts, upstream.WithHTTPClient(o.httpClient))
	}
	client := upstream.New(rt.Upstream, pool, log.With(logx.Comp("upstream")), uopts...)

	gate := dedup.New(store, rt.DedupTTL, log.With(logx.Comp("dedup")))
	dispatcher := notifier.New(rt.Notifier, sender, gate, store, bus, log.With(logx.Comp("notifier")))
	loop := poller.New(rt.Poller, store, client, gate, dispatcher, bus, log.With(logx.Comp("poller")))
	sched := scheduler.New(scheduler.Config{Timezone: rt.Timezone}, log.With(logx.Comp("scheduler")), bus)

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		sender:     sender,
		pool:       pool,
		client:     client,
		gate:       gate,
		dispatcher: dispatcher,
		loop:       loop,
		sched:      sched,
	}
	a.ops = ops.New(opsConfig(rt.Ops), log.With(logx.Comp("ops")), ops.WithHealth(a.health))

	if err := a.registerJobs(rt); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func opsConfig(o config.Ops) ops.Config {
	return ops.Config{
		Enabled:              o.Enabled,
		Addr:                 o.Addr,
		Token:                o.Token,
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		ReadTimeout:          o.ReadTimeout,
		WriteTimeout:         o.WriteTimeout,
		IdleTimeout:          o.IdleTimeout,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}
}

func setLogTarget(svc *logx.Service, cfg *config.Config) {
	chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog)
	if !ok {
		svc.SetChatTarget(0, 0)
		return
	}
	if cfg.Logging.Telegram.ThreadID != 0 {
		threadID = cfg.Logging.Telegram.ThreadID
	}
	svc.SetChatTarget(chatID, threadID)
}

// Store exposes the subscription store to embedding code (the chat UI creates subscriptions).
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))

	if err := a.ops.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("ops server: %w", err)
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go0("catalog.warmup", func(c context.Context) {
		if err := a.sched.RunNow(c, jobRefreshLocations); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("initial location refresh failed", logx.Err(err))
		}
	})
	a.sup.Go0("startup.notice", a.announceStartup)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("credentials", a.pool.Len()),
		logx.Duration("dedup_ttl", a.gate.TTL()),
	)
	return nil
}

func (a *App) announceStartup(ctx context.Context) {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return
	}
	targets := ownerTargets(cfg.Telegram.OwnerUserIDs)
	if len(targets) == 0 {
		return
	}
	text := tgui.JoinH("\n",
		tgui.B("🤖 Бот запущен"),
		tgui.Field("Токенов API:", fmt.Sprint(a.pool.Len())),
	).String()
	sent := a.dispatcher.Announce(ctx, targets, text)
	a.log.Debug("startup notice sent", logx.Int("delivered", sent), logx.Int("targets", len(targets)))
}

// health is served on /healthz.
func (a *App) health() (bool, any) {
	cycles, skipped := a.loop.Stats()
	detail := map[string]any{
		"cycles":        cycles,
		"skipped_ticks": skipped,
		"running":       a.loop.Running(),
		"credentials":   a.pool.Len(),
		"schedules":     a.sched.Snapshot().Schedules,
	}
	ok := a.sup != nil && a.sup.Context().Err() == nil
	if r, has := a.loop.LastReport(); has {
		detail["last_cycle"] = r
		if r.Err != nil {
			detail["last_cycle_error"] = r.Err.Error()
			ok = false
		}
	}
	return ok, detail
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Schedules stop first so no new cycle starts while the store is closing.
	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit and the caller's deadline, whichever is sooner.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
