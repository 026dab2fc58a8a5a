package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"irlshots/internal/config"
	"irlshots/internal/eventbus"
	"irlshots/internal/metrics"
	"irlshots/internal/permission"
	"irlshots/internal/ratelimit"
	rtsup "irlshots/internal/runtime/supervisor"
	"irlshots/internal/transport"
	logx "irlshots/pkg/logx"
)

// Event is one inbound chat line that may be a capture command.
type Event struct {
	Transport     string
	Channel       string
	RequesterID   string
	RequesterName string
	Roles         permission.RoleSet
	RawText       string
	IsSelf        bool
	ReceivedAt    time.Time
}

func FromMessage(m transport.Message) Event {
	return Event{
		Transport:     m.Transport,
		Channel:       m.Channel,
		RequesterID:   m.UserID,
		RequesterName: m.UserName,
		Roles:         m.Roles,
		RawText:       m.Text,
		IsSelf:        m.IsSelf,
		ReceivedAt:    m.ReceivedAt,
	}
}

type Outcome string

const (
	Ignored   Outcome = "ignored"
	Throttled Outcome = "throttled"
	Denied    Outcome = "denied"
	Accepted  Outcome = "accepted"
)

var busTypes = map[Outcome]string{
	Ignored:   eventbus.TriggerIgnored,
	Throttled: eventbus.TriggerThrottled,
	Denied:    eventbus.TriggerDenied,
	Accepted:  eventbus.TriggerAccepted,
}

type Decision struct {
	Outcome Outcome
	Reason  string
	Rate    ratelimit.Decision
}

// Info is the event bus payload for gate decisions.
type Info struct {
	Transport string `json:"transport"`
	Channel   string `json:"channel"`
	Requester string `json:"requester"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}

// Runner executes the capture pipeline for an accepted trigger.
type Runner func(ctx context.Context, ev Event, snap config.Snapshot)

// Normalize returns the first whitespace token of text without leading
// "!" or "/", lowercased.
func Normalize(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimLeft(fields[0], "!/"))
}

// Matches reports whether text invokes command. Both sides are normalized,
// so "!SHOT please" matches "shot" and "/shot".
func Matches(text, command string) bool {
	c := Normalize(command)
	return c != "" && Normalize(text) == c
}

// Gate decides whether chat triggers run the pipeline. It owns the rate
// limiter state for the process lifetime.
type Gate struct {
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus
	sup     *rtsup.Supervisor
	run     Runner
	now     func() time.Time

	mu        sync.Mutex
	limits    *ratelimit.Set
	retention time.Duration
}

type Option func(*Gate)

func WithMetrics(m *metrics.Metrics) Option { return func(g *Gate) { g.metrics = m } }
func WithBus(b eventbus.Bus) Option         { return func(g *Gate) { g.bus = b } }
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// NewGate runs accepted triggers through run on sup.
func NewGate(log logx.Logger, sup *rtsup.Supervisor, run Runner, opts ...Option) *Gate {
	g := &Gate{
		log: log,
		sup: sup,
		run: run,
		bus: eventbus.Nop(),
		now: time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// limiter returns the set, applying a reconfigured retention in place so
// recorded triggers survive reloads.
func (g *Gate) limiter(retention time.Duration) *ratelimit.Set {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.limits == nil:
		g.limits = ratelimit.NewSet(retention)
	case g.retention != retention:
		g.limits.SetRetention(retention)
	}
	g.retention = retention
	return g.limits
}

// Evaluate applies the command match, the rate limit and the permission
// policy in that order. A throttled trigger is not recorded in the window.
func (g *Gate) Evaluate(ev Event, snap config.Snapshot) Decision {
	if ev.IsSelf || !Matches(ev.RawText, snap.Command) {
		return Decision{Outcome: Ignored}
	}
	now := ev.ReceivedAt
	if now.IsZero() {
		now = g.now()
	}
	rl := snap.RateLimit
	w := g.limiter(rl.Retention).Get(rl.Scope.Key(ev.Channel, ev.RequesterID))
	rd := w.Admit(now, rl.Window, rl.Max)
	if !rd.Allowed {
		return Decision{Outcome: Throttled, Reason: rd.Reason(), Rate: rd}
	}
	if !permission.Evaluate(snap.Permissions, ev.Roles) {
		return Decision{Outcome: Denied, Reason: "insufficient role", Rate: rd}
	}
	return Decision{Outcome: Accepted, Rate: rd}
}

// OnTrigger evaluates ev and, when accepted, runs the pipeline in the
// background with snap. It never blocks on the capture.
func (g *Gate) OnTrigger(ev Event, snap config.Snapshot) Decision {
	d := g.Evaluate(ev, snap)
	g.metrics.Trigger(ev.Transport, string(d.Outcome))
	if d.Outcome != Ignored {
		g.bus.Publish(eventbus.Event{Type: busTypes[d.Outcome], Data: Info{
			Transport: ev.Transport,
			Channel:   ev.Channel,
			Requester: ev.RequesterName,
			Outcome:   string(d.Outcome),
			Reason:    d.Reason,
		}})
	}

	fields := []logx.Field{
		logx.String("transport", ev.Transport),
		logx.String("channel", ev.Channel),
		logx.String("requester", ev.RequesterName),
		logx.Any("roles", ev.Roles.Names()),
	}
	switch d.Outcome {
	case Ignored:
		return d
	case Throttled:
		g.log.Info("trigger throttled", append(fields, logx.String("reason", d.Reason))...)
		return d
	case Denied:
		g.log.Info("trigger denied", append(fields, logx.String("reason", d.Reason))...)
		return d
	}

	g.log.Info("trigger accepted", append(fields, logx.Int("window_count", d.Rate.Current+1))...)
	if g.run != nil && g.sup != nil {
		g.sup.Go0("pipeline.chat", func(ctx context.Context) { g.run(ctx, ev, snap) })
	}
	return d
}

// Sweep drops idle limiter windows.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	set := g.limits
	g.mu.Unlock()
	if set == nil {
		return 0
	}
	return set.Sweep(g.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := g.Sweep(); n > 0 {
				g.log.Debug("rate limit windows swept", logx.Int("count", n))
			}
		}
	}
}
