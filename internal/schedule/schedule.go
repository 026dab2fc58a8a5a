package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "irlshots/pkg/logx"
)

// Job is one scheduled capture.
type Job func(ctx context.Context)

type Config struct {
	Enabled  bool
	Spec     string
	Location *time.Location
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate parses spec with the same parser the service uses.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule.spec: %w", err)
	}
	return nil
}

// Service runs a job on a cron spec. Runs never overlap: a tick that fires
// while the previous capture is still running is skipped.
type Service struct {
	log logx.Logger
	job Job

	mu  sync.Mutex
	ctx context.Context
	cfg Config
	c   *cron.Cron
	id  cron.EntryID
}

func New(log logx.Logger, job Job) *Service {
	return &Service{log: log, job: job}
}

// Start remembers ctx for job runs and applies cfg.
func (s *Service) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	return s.Apply(cfg)
}

// Apply (re)starts the cron when the spec, location or enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	same := s.cfg.Enabled == cfg.Enabled && s.cfg.Spec == cfg.Spec &&
		s.cfg.Location != nil && s.cfg.Location.String() == cfg.Location.String()
	if same && (s.c != nil) == cfg.Enabled {
		return nil
	}
	if cfg.Enabled {
		if err := Validate(cfg.Spec); err != nil {
			return err
		}
	}
	s.stopLocked()
	s.cfg = cfg
	if !cfg.Enabled || s.ctx == nil {
		return nil
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	ctx := s.ctx
	id, err := c.AddFunc(cfg.Spec, func() {
		if ctx.Err() != nil {
			return
		}
		s.job(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule.spec: %w", err)
	}
	c.Start()
	s.c, s.id = c, id
	s.log.Info("schedule started",
		logx.String("spec", cfg.Spec),
		logx.String("tz", cfg.Location.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Next returns the next planned run, or zero when the schedule is off.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.id).Next
}

// Stop halts the cron and waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("schedule stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
