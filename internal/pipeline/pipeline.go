package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"irlshots/internal/capture"
	"irlshots/internal/config"
	"irlshots/internal/eventbus"
	"irlshots/internal/fanout"
	"irlshots/internal/metrics"
	"irlshots/internal/obsws"
	"irlshots/internal/overlay"
	"irlshots/internal/storage"
	"irlshots/internal/trigger"
	"irlshots/internal/webhook"
	logx "irlshots/pkg/logx"
)

// Origins of a pipeline run.
const (
	OriginChat     = "chat"
	OriginManual   = "manual"
	OriginSchedule = "schedule"
)

// ErrOverlayDisabled is returned by TestAnimation when no hub is running.
var ErrOverlayDisabled = errors.New("overlay disabled")

// Deps are the long-lived collaborators of a Pipeline. Hub, Store, Metrics
// and Bus are optional.
type Deps struct {
	Capture *capture.Client
	Hub     *overlay.Hub
	Store   storage.Store
	Metrics *metrics.Metrics
	Bus     eventbus.Bus
	Log     logx.Logger
	Now     func() time.Time
}

// Pipeline captures a screenshot and fans it out to the overlay and the
// webhook. Every run works on one config snapshot.
type Pipeline struct {
	capture *capture.Client
	hub     *overlay.Hub
	store   storage.Store
	metrics *metrics.Metrics
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	whMu  sync.Mutex
	wh    *webhook.Client
	whKey webhookKey
	newID func() string
}

type webhookKey struct {
	timeout time.Duration
	rate    float64
}

// Report is what one run produced.
type Report struct {
	ID        string               `json:"id"`
	Origin    string               `json:"origin"`
	OK        bool                 `json:"ok"`
	ErrorKind string               `json:"errorKind,omitempty"`
	Error     string               `json:"error,omitempty"`
	ImagePath string               `json:"imagePath,omitempty"`
	At        time.Time            `json:"at"`
	Took      time.Duration        `json:"took"`
	Sinks     []storage.SinkRecord `json:"sinks,omitempty"`
	Outcomes  []fanout.Outcome     `json:"-"`
}

func New(d Deps) *Pipeline {
	if d.Capture == nil {
		d.Capture = capture.New(d.Log)
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{
		capture: d.Capture,
		hub:     d.Hub,
		store:   d.Store,
		metrics: d.Metrics,
		bus:     d.Bus,
		log:     d.Log,
		now:     d.Now,
		newID:   capture.NewID,
	}
}

// Settings maps a config snapshot to capture settings.
func Settings(s config.Snapshot) capture.Settings {
	return capture.Settings{
		OBS:             obsws.Config{Host: s.OBS.Host, Port: s.OBS.Port, Password: s.OBS.Password},
		Timeout:         s.OBS.Timeout,
		Source:          s.Capture.Source,
		Width:           s.Capture.Width,
		Height:          s.Capture.Height,
		SaveScreenshots: s.Capture.SaveScreenshots,
		OutputFolder:    s.Capture.OutputFolder,
		DataDir:         s.Capture.DataDir,
		Serialize:       s.Capture.Serialize,
	}
}

func (p *Pipeline) webhookClient(s config.Webhook) *webhook.Client {
	key := webhookKey{timeout: s.Timeout, rate: s.RatePerSec}
	p.whMu.Lock()
	defer p.whMu.Unlock()
	if p.wh == nil || p.whKey != key {
		p.wh = webhook.NewClient(s.Timeout, s.RatePerSec)
		p.whKey = key
	}
	return p.wh
}

// Sinks returns the sinks enabled in s, overlay first.
func (p *Pipeline) Sinks(s config.Snapshot) []fanout.Sink {
	var sinks []fanout.Sink
	if p.hub != nil && s.Overlay.Enabled {
		sinks = append(sinks, overlay.Sink{
			Hub:       p.hub,
			Animation: overlay.Animation{Delay: s.Overlay.AnimationDelay, Direction: s.Overlay.AnimationDirection},
			Now:       p.now,
		})
	}
	if s.Webhook.Enabled {
		sinks = append(sinks, webhook.Sink{
			Client:   p.webhookClient(s.Webhook),
			URL:      s.Webhook.URL,
			BotName:  s.Webhook.BotName,
			Template: s.Webhook.Template,
			Now:      p.now,
		})
	}
	return sinks
}

type requester struct {
	transport, channel, name string
}

// Run captures once and publishes the result to every enabled sink.
func (p *Pipeline) Run(ctx context.Context, origin string, s config.Snapshot) Report {
	return p.run(ctx, origin, requester{}, s)
}

// ManualCapture runs the pipeline outside the chat gate.
func (p *Pipeline) ManualCapture(ctx context.Context, s config.Snapshot) Report {
	return p.run(ctx, OriginManual, requester{}, s)
}

// OnChatTrigger runs the pipeline for a trigger accepted by the gate.
func (p *Pipeline) OnChatTrigger(ctx context.Context, ev trigger.Event, s config.Snapshot) {
	p.run(ctx, OriginChat, requester{transport: ev.Transport, channel: ev.Channel, name: ev.RequesterName}, s)
}

func (p *Pipeline) run(ctx context.Context, origin string, who requester, s config.Snapshot) Report {
	id := p.newID()
	log := p.log.With(logx.String("capture_id", id), logx.String("origin", origin))
	if who.name != "" {
		log = log.With(logx.String("requester", who.name), logx.String("transport", who.transport))
	}

	res := p.capture.Capture(ctx, id, Settings(s))
	rep := Report{ID: id, Origin: origin, OK: res.OK(), ImagePath: res.ImagePath, At: p.now(), Took: res.Took}

	if !res.OK() {
		rep.ErrorKind = string(res.Err.Kind)
		rep.Error = res.Err.Error()
		p.metrics.Capture(origin, rep.ErrorKind, res.Took)
		p.bus.Publish(eventbus.Event{Type: eventbus.CaptureFailed, Data: rep})
		log.Warn("capture failed",
			logx.String("kind", rep.ErrorKind),
			logx.String("source", s.Capture.Source),
			logx.Err(res.Err),
		)
		p.record(ctx, rep, who, s, 0)
		return rep
	}

	p.metrics.Capture(origin, "", res.Took)
	size := len(res.Image)
	log.Info("capture succeeded",
		logx.String("source", s.Capture.Source),
		logx.String("path", res.ImagePath),
		logx.Int("bytes", size),
		logx.Duration("took", res.Took),
	)

	rep.Outcomes = fanout.Publish(ctx, res, p.Sinks(s)...)
	res.Release()
	for _, o := range rep.Outcomes {
		rep.Sinks = append(rep.Sinks, storage.SinkRecord{Sink: o.Sink, OK: o.OK, Error: errString(o.Err)})
		p.metrics.Sink(o.Sink, o.OK)
		if o.OK {
			log.Debug("sink delivered", logx.String("sink", o.Sink), logx.Duration("took", o.Took))
			continue
		}
		log.Warn("sink failed", logx.String("sink", o.Sink), logx.Err(o.Err))
		p.bus.Publish(eventbus.Event{Type: eventbus.SinkFailed, Data: map[string]string{
			"capture_id": id,
			"sink":       o.Sink,
			"error":      errString(o.Err),
		}})
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.CaptureSucceeded, Data: rep})
	p.record(ctx, rep, who, s, size)
	return rep
}

func (p *Pipeline) record(ctx context.Context, rep Report, who requester, s config.Snapshot, size int) {
	if p.store == nil {
		return
	}
	r := storage.CaptureRecord{
		ID:        rep.ID,
		At:        rep.At,
		Origin:    rep.Origin,
		Transport: who.transport,
		Channel:   who.channel,
		Requester: who.name,
		Source:    s.Capture.Source,
		OK:        rep.OK,
		ErrorKind: rep.ErrorKind,
		Error:     rep.Error,
		ImagePath: rep.ImagePath,
		Bytes:     size,
		TookMS:    rep.Took.Milliseconds(),
	}
	r.Sinks = rep.Sinks
	// History must not be lost to a run cancelled by shutdown.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.AppendCapture(sctx, r); err != nil {
		p.log.Warn("capture history append failed", logx.String("capture_id", rep.ID), logx.Err(err))
	}
}

// TestAnimation pushes a generated test image to overlay listeners and
// returns how many received it.
func (p *Pipeline) TestAnimation(ctx context.Context, s config.Snapshot) (int, error) {
	if p.hub == nil || !s.Overlay.Enabled {
		return 0, ErrOverlayDisabled
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	img, err := overlay.RenderTestImage(s.Overlay.TestImageWidth, s.Overlay.TestImageHeight, p.now())
	if err != nil {
		return 0, err
	}
	n, err := p.hub.SendTestAnimation(img, overlay.Animation{Delay: s.Overlay.AnimationDelay, Direction: s.Overlay.AnimationDirection})
	if err != nil {
		return 0, err
	}
	p.log.Info("test animation sent", logx.Int("listeners", n))
	return n, nil
}

// ListSources asks the host for scenes and sources.
func (p *Pipeline) ListSources(ctx context.Context, s config.Snapshot) (capture.Sources, error) {
	return p.capture.ListSources(ctx, Settings(s))
}

// Preview returns a data URI screenshot of the configured source; zero
// width/height mean native size.
func (p *Pipeline) Preview(ctx context.Context, s config.Snapshot, width, height int) (string, error) {
	return p.capture.Preview(ctx, Settings(s), width, height)
}

// History returns recent runs, newest first.
func (p *Pipeline) History(ctx context.Context, limit int) ([]storage.CaptureRecord, error) {
	if p.store == nil {
		return nil, storage.ErrDisabled
	}
	return p.store.Recent(ctx, limit)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
