package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

// FileConfig writes JSON lines to <Dir>/app-YYYY-MM-DD.log.
type FileConfig struct {
	Enabled bool
	Dir     string
}

// AlertConfig forwards records at or above MinLevel to a chat.
type AlertConfig struct {
	Enabled    bool
	Channel    string
	MinLevel   string
	RatePerSec int
}

// Sender delivers alert text to a chat channel.
type Sender interface {
	SendText(ctx context.Context, channel, text string) error
}

const (
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
	defaultLogDir  = "./logs"
	alertQueueSize = 64
	alertTimeout   = 10 * time.Second
)

// Service owns the log outputs and rebuilds them on Apply. Loggers created
// from it pick up the new outputs without being recreated.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *dailyFile
	sender Sender
	alert  alertState

	queue chan alertItem
	once  sync.Once
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

type alertState struct {
	channel string
	min     zerolog.Level
	limiter *rate.Limiter
}

type alertItem struct {
	channel string
	text    string
}

// New applies cfg and returns the service with its root logger. sender may
// be nil until the chat transport is up; see SetSender.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{sender: sender, queue: make(chan alertItem, alertQueueSize)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSender swaps the alert transport. nil pauses alerts.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Apply rebuilds the outputs for cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		dir := strings.TrimSpace(cfg.File.Dir)
		if dir == "" {
			dir = defaultLogDir
		}
		if f, err := openDailyFile(dir, time.Now); err != nil {
			fmt.Fprintf(os.Stderr, "logx: log dir %q: %v\n", dir, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	rps := max(1, cfg.Alert.RatePerSec)
	s.alert = alertState{
		channel: strings.TrimSpace(cfg.Alert.Channel),
		min:     parseLevel(cfg.Alert.MinLevel, zerolog.WarnLevel),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	if cfg.Alert.Enabled && s.alert.channel != "" {
		s.startAlerts()
		outs = append(outs, alertWriter{s})
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the alert worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.stop
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.wg.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

// startAlerts must be called with s.mu held.
func (s *Service) startAlerts() {
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case it := <-s.queue:
					s.mu.Lock()
					sender := s.sender
					s.mu.Unlock()
					if sender == nil {
						continue
					}
					sctx, cancel := context.WithTimeout(ctx, alertTimeout)
					_ = sender.SendText(sctx, it.channel, it.text)
					cancel()
				}
			}
		}()
	})
}
