package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"irlshots/internal/api"
	"irlshots/internal/capture"
	"irlshots/internal/config"
	"irlshots/internal/eventbus"
	"irlshots/internal/metrics"
	"irlshots/internal/overlay"
	"irlshots/internal/pipeline"
	rtsup "irlshots/internal/runtime/supervisor"
	"irlshots/internal/schedule"
	"irlshots/internal/storage"
	"irlshots/internal/transport"
	"irlshots/internal/trigger"
	logx "irlshots/pkg/logx"
)

const (
	messageBuffer = 256
	sweepInterval = time.Minute
)

type App struct {
	cfgm *config.Manager
	snap atomic.Pointer[config.Snapshot]

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	metrics *metrics.Metrics
	hub     *overlay.Hub
	server  *overlay.Server
	capture *capture.Client
	pipe    *pipeline.Pipeline
	sched   *schedule.Service

	sup  *rtsup.Supervisor
	runs *rtsup.Supervisor
	gate *trigger.Gate

	tmu        sync.Mutex
	transports map[string]runningTransport
	msgs       chan transport.Message

	started time.Time
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	// The alert sender is attached once the telegram transport is running.
	logSvc, log := logx.New(snap.Logging, nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		bus:        eventbus.New(),
		metrics:    metrics.New(),
		transports: map[string]runningTransport{},
		msgs:       make(chan transport.Message, messageBuffer),
	}
	a.snap.Store(&snap)

	if sc, ok := storageConfig(snap); ok {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("capture history enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.hub = overlay.NewHub(log.With(logx.String("comp", "overlay")))
	a.hub.OnCount(a.metrics.SetListeners)

	a.capture = capture.New(log.With(logx.String("comp", "capture")))
	a.pipe = pipeline.New(pipeline.Deps{
		Capture: a.capture,
		Hub:     a.hub,
		Store:   a.store,
		Metrics: a.metrics,
		Bus:     a.bus,
		Log:     log.With(logx.String("comp", "pipeline")),
	})

	a.server = overlay.NewServer(overlayServerConfig(snap), a.hub, log.With(logx.String("comp", "http")))
	if snap.Overlay.Metrics {
		a.server.MountMetrics(a.metrics.Handler())
	}
	a.server.MountAPI(api.New(a.pipe, a.Snapshot, a.status, log.With(logx.String("comp", "api"))))

	a.sched = schedule.New(log.With(logx.String("comp", "schedule")), func(ctx context.Context) {
		a.pipe.Run(ctx, pipeline.OriginSchedule, a.Snapshot())
	})
	return a, nil
}

// Snapshot returns the config currently in effect.
func (a *App) Snapshot() config.Snapshot { return *a.snap.Load() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

type status struct {
	Uptime       string          `json:"uptime"`
	Listeners    int             `json:"listeners"`
	Transports   []string        `json:"transports"`
	NextSchedule *time.Time      `json:"nextSchedule,omitempty"`
	OpenSessions int             `json:"openSessions"`
	Tasks        rtsup.Snapshot  `json:"tasks"`
	Runs         rtsup.Snapshot  `json:"runs"`
	HTTP         *rtsup.Snapshot `json:"http,omitempty"`
}

func (a *App) status() any {
	st := status{
		Uptime:       time.Since(a.started).Round(time.Second).String(),
		Listeners:    a.hub.Len(),
		Transports:   a.transportNames(),
		OpenSessions: a.capture.OpenSessions(),
	}
	if next := a.sched.Next(); !next.IsZero() {
		st.NextSchedule = &next
	}
	if a.sup != nil {
		st.Tasks = a.sup.Snapshot()
	}
	if a.runs != nil {
		st.Runs = a.runs.Snapshot()
	}
	if hs := a.server.Supervisor(); hs != nil {
		snap := hs.Snapshot()
		st.HTTP = &snap
	}
	return st
}

// newRunSupervisor hosts chat-triggered pipeline runs. A failed or
// panicking run is logged and counted but never cancels the app.
func newRunSupervisor(parent context.Context, log logx.Logger, m *metrics.Metrics) *rtsup.Supervisor {
	return rtsup.NewSupervisor(parent,
		rtsup.WithLogger(log.With(logx.String("comp", "pipeline"))),
		rtsup.WithCancelOnError(false),
		rtsup.WithPanicHook(m.Panic),
	)
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithPanicHook(a.metrics.Panic),
	)
	a.runs = newRunSupervisor(a.sup.Context(), a.log, a.metrics)
	snap := a.Snapshot()

	a.gate = trigger.NewGate(a.log.With(logx.String("comp", "trigger")), a.runs, a.pipe.OnChatTrigger,
		trigger.WithMetrics(a.metrics),
		trigger.WithBus(a.bus),
	)

	if err := a.applyTransports(a.sup.Context(), snap, true); err != nil {
		return err
	}
	if snap.Overlay.Enabled {
		a.server.Start(a.sup.Context())
	}
	if err := a.sched.Start(a.sup.Context(), scheduleConfig(snap)); err != nil {
		return err
	}

	a.sup.Go("transport.dispatch", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case m := <-a.msgs:
				a.gate.OnTrigger(trigger.FromMessage(m), a.Snapshot())
			}
		}
	})
	a.sup.Go0("trigger.sweep", func(c context.Context) { a.gate.RunSweeper(c, sweepInterval) })

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
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyConfig(c, newCfg, sections, attrs)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("command", snap.Command),
		logx.String("source", snap.Capture.Source),
		logx.Any("transports", a.transportNames()),
	)
	return nil
}

// applyConfig swaps the snapshot and reconfigures running components. Rate
// limit state survives reloads; in-flight captures keep their own snapshot.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config, sections []string, attrs []logx.Field) {
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	snap, err := config.Resolve(cfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	prev := a.Snapshot()
	a.snap.Store(&snap)

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	if prev.Overlay.Metrics != snap.Overlay.Metrics {
		a.log.Warn("overlay.metrics changed; restart required for changes to take effect")
	}

	a.logs.Apply(snap.Logging)
	a.server.Reconfigure(ctx, overlayServerConfig(snap))
	if err := a.sched.Apply(scheduleConfig(snap)); err != nil {
		a.log.Warn("schedule not applied", logx.Err(err))
	}
	_ = a.applyTransports(ctx, snap, false)

	a.log.Info("config reloaded", fields...)
}

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops and in-flight captures start unwinding.
	a.sup.Cancel()

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("schedule", 2*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("transports", 3*time.Second, a.stopTransports)
	step("overlay", 2*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	// Captures already running finish recording before storage closes.
	step("pipeline runs", 5*time.Second, func(c context.Context) error {
		if a.runs == nil {
			return nil
		}
		_ = a.runs.Wait(c)
		return c.Err()
	})
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("hub", 1*time.Second, func(context.Context) error { a.hub.Close(); return nil })
	step("storage", 1*time.Second, func(context.Context) error {
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
