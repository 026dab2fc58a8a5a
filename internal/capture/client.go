package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"irlshots/internal/obsws"
	logx "irlshots/pkg/logx"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Settings is the capture-relevant slice of a config snapshot.
type Settings struct {
	OBS             obsws.Config
	Timeout         time.Duration
	Source          string
	Width           int
	Height          int
	SaveScreenshots bool
	OutputFolder    string
	DataDir         string
	Serialize       bool
}

// Request is one capture, fully resolved. Immutable once built.
type Request struct {
	ID          string
	SourceName  string
	Width       int
	Height      int
	Path        string
	RequestedAt time.Time
}

// Result is either a success (Err == nil) or a failure with a classified Err.
type Result struct {
	ID         string
	ImagePath  string
	Image      []byte
	CapturedAt time.Time
	Took       time.Duration
	Err        *Error
}

func (r Result) OK() bool { return r.Err == nil }

// Release drops the in-memory image. The file on disk is kept.
func (r *Result) Release() { r.Image = nil }

// Session is the subset of an obs-websocket session used here.
type Session interface {
	SaveSourceScreenshot(ctx context.Context, p obsws.SaveScreenshotParams) error
	GetSourceScreenshot(ctx context.Context, p obsws.GetScreenshotParams) (string, error)
	GetSceneList(ctx context.Context) (obsws.SceneList, error)
	GetInputList(ctx context.Context) ([]obsws.Input, error)
	GetSceneItemList(ctx context.Context, sceneName string) ([]obsws.SceneItem, error)
	Close() error
}

type DialFunc func(ctx context.Context, cfg obsws.Config) (Session, error)

// DialOBS dials a real obs-websocket host.
func DialOBS(ctx context.Context, cfg obsws.Config) (Session, error) {
	c, err := obsws.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client opens one session per call and always releases it.
type Client struct {
	dial DialFunc
	log  logx.Logger
	now  func() time.Time

	open atomic.Int64
	sem  chan struct{}
}

type Option func(*Client)

func WithDialer(d DialFunc) Option { return func(c *Client) { c.dial = d } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{dial: DialOBS, log: log, now: time.Now, sem: make(chan struct{}, 1)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OpenSessions reports sessions currently held by in-flight calls.
func (c *Client) OpenSessions() int { return int(c.open.Load()) }

// Build resolves a request from settings: size defaults and destination path.
// An empty id gets a fresh one.
func (c *Client) Build(id string, s Settings) Request {
	if id == "" {
		id = NewID()
	}
	now := c.now()
	w, h := s.Width, s.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	want := ResolveOutputDir(s.SaveScreenshots, s.OutputFolder, s.DataDir)
	dir, err := ensureDir(want)
	if err != nil {
		c.log.Warn("output dir unusable, falling back to temp dir",
			logx.String("dir", want),
			logx.String("fallback", dir),
			logx.Err(err),
		)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return Request{
		ID:          id,
		SourceName:  strings.TrimSpace(s.Source),
		Width:       w,
		Height:      h,
		Path:        filepath.Join(dir, FileName(now, id)),
		RequestedAt: now,
	}
}

// Capture asks the host to save a screenshot of the configured source, then
// reads the file back. Each call writes its own file named after id. No
// retries.
func (c *Client) Capture(ctx context.Context, id string, s Settings) Result {
	req := c.Build(id, s)
	if req.SourceName == "" {
		return Result{ID: req.ID, Err: newError(KindCaptureRequest, "SaveSourceScreenshot", errors.New("no source configured"))}
	}

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	sess, release, cerr := c.acquire(ctx, s)
	if cerr != nil {
		return Result{ID: req.ID, Err: cerr}
	}
	defer release()

	err := sess.SaveSourceScreenshot(ctx, obsws.SaveScreenshotParams{
		SourceName:  req.SourceName,
		ImageFormat: "png",
		FilePath:    req.Path,
		Width:       req.Width,
		Height:      req.Height,
	})
	if err != nil {
		if errors.Is(err, obsws.ErrClosed) && ctx.Err() == nil {
			return Result{ID: req.ID, Err: newError(KindConnection, "SaveSourceScreenshot", err)}
		}
		return Result{ID: req.ID, Err: newError(KindCaptureRequest, "SaveSourceScreenshot", err)}
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return Result{ID: req.ID, Err: newError(KindPersistence, "read "+req.Path, err)}
	}
	capturedAt := c.now()
	c.log.Debug("screenshot saved",
		logx.String("source", req.SourceName),
		logx.String("path", req.Path),
		logx.Int("bytes", len(data)),
	)
	return Result{
		ID:         req.ID,
		ImagePath:  req.Path,
		Image:      data,
		CapturedAt: capturedAt,
		Took:       capturedAt.Sub(req.RequestedAt),
	}
}

// Preview returns a screenshot of source as a data URI without writing to
// disk. Zero width/height mean the source's native size.
func (c *Client) Preview(ctx context.Context, s Settings, width, height int) (string, error) {
	src := strings.TrimSpace(s.Source)
	if src == "" {
		return "", newError(KindCaptureRequest, "GetSourceScreenshot", errors.New("no source configured"))
	}
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	sess, release, cerr := c.acquire(ctx, s)
	if cerr != nil {
		return "", cerr
	}
	defer release()

	data, err := sess.GetSourceScreenshot(ctx, obsws.GetScreenshotParams{
		SourceName:  src,
		ImageFormat: "png",
		Width:       max(0, width),
		Height:      max(0, height),
	})
	if err != nil {
		return "", newError(KindCaptureRequest, "GetSourceScreenshot", err)
	}
	return data, nil
}

// Source is one capturable source and the scene it was found in ("" for
// inputs not placed in any scene).
type Source struct {
	Name  string `json:"name"`
	Kind  string `json:"kind,omitempty"`
	Scene string `json:"scene,omitempty"`
}

type Sources struct {
	CurrentScene string   `json:"currentScene"`
	Scenes       []string `json:"scenes"`
	Sources      []Source `json:"sources"`
}

// ListSources enumerates scenes, their items and free-standing inputs.
func (c *Client) ListSources(ctx context.Context, s Settings) (Sources, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	sess, release, cerr := c.acquire(ctx, s)
	if cerr != nil {
		return Sources{}, cerr
	}
	defer release()

	sl, err := sess.GetSceneList(ctx)
	if err != nil {
		return Sources{}, newError(KindCaptureRequest, "GetSceneList", err)
	}
	out := Sources{CurrentScene: sl.CurrentProgramSceneName}
	seen := map[string]bool{}
	for _, sc := range sl.Scenes {
		out.Scenes = append(out.Scenes, sc.SceneName)
		items, err := sess.GetSceneItemList(ctx, sc.SceneName)
		if err != nil {
			c.log.Warn("list scene items failed", logx.String("scene", sc.SceneName), logx.Err(err))
			continue
		}
		for _, it := range items {
			if seen[it.SourceName] {
				continue
			}
			seen[it.SourceName] = true
			out.Sources = append(out.Sources, Source{Name: it.SourceName, Kind: it.InputKind, Scene: sc.SceneName})
		}
	}
	inputs, err := sess.GetInputList(ctx)
	if err != nil {
		c.log.Warn("list inputs failed", logx.Err(err))
	}
	for _, in := range inputs {
		if seen[in.InputName] {
			continue
		}
		seen[in.InputName] = true
		out.Sources = append(out.Sources, Source{Name: in.InputName, Kind: in.InputKind})
	}
	sort.Strings(out.Scenes)
	sort.SliceStable(out.Sources, func(i, j int) bool { return out.Sources[i].Name < out.Sources[j].Name })
	return out, nil
}

// acquire dials a session, honoring the serialize slot. ctx already carries
// the per-call timeout. release closes the session and frees the slot; it must
// be called exactly once.
func (c *Client) acquire(ctx context.Context, s Settings) (Session, func(), *Error) {
	unlock := func() {}
	if s.Serialize {
		select {
		case c.sem <- struct{}{}:
			unlock = func() { <-c.sem }
		case <-ctx.Done():
			return nil, nil, newError(KindConnection, "wait for capture slot", ctx.Err())
		}
	}

	sess, err := c.dial(ctx, s.OBS)
	if err != nil {
		unlock()
		return nil, nil, newError(KindConnection, "connect "+s.OBS.URL(), err)
	}
	c.open.Add(1)
	release := func() {
		if err := sess.Close(); err != nil {
			c.log.Debug("obs session close", logx.Err(err))
		}
		c.open.Add(-1)
		unlock()
	}
	return sess, release, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
