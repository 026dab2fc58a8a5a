package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"irlshots/internal/permission"
	"irlshots/internal/ratelimit"
	logx "irlshots/pkg/logx"
)

const (
	DefaultCommand            = "!shot"
	DefaultOBSHost            = "localhost"
	DefaultOBSPort            = 4455
	DefaultOBSTimeout         = 10 * time.Second
	DefaultOverlayAddr        = ":3456"
	DefaultAnimationDelay     = 5000
	DefaultAnimationDirection = "left"
	DefaultTwitchURL          = "wss://irc-ws.chat.twitch.tv:443"
	DefaultPollTimeout        = 10 * time.Second
	DefaultWebhookTimeout     = 15 * time.Second
	DefaultWebhookBotName     = "IRLshots Bot"
	DefaultWebhookTemplate    = "New screenshot taken at {time}"
	DefaultStorageDriver      = "file"
	DefaultBusyTimeout        = 5 * time.Second
	DefaultReadTimeout        = 10 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
	DefaultTestImageWidth     = 800
	DefaultTestImageHeight    = 600
)

const (
	maxRateWindow     = 24 * time.Hour
	maxPollTimeout    = time.Minute
	maxRequestTimeout = 2 * time.Minute
)

// Snapshot is a fully defaulted, validated view of a Config. A snapshot is
// taken once per pipeline run and never mutated afterwards.
type Snapshot struct {
	Command     string
	Permissions permission.Policy
	RateLimit   RateLimit

	Twitch   Twitch
	Telegram Telegram

	OBS      OBS
	Capture  Capture
	Overlay  Overlay
	Webhook  Webhook
	Schedule Schedule
	Logging  logx.Config
	Storage  Storage
}

type RateLimit struct {
	Max       int
	Window    time.Duration
	Retention time.Duration
	Scope     ratelimit.Scope
}

type Twitch struct {
	Enabled    bool
	Username   string
	OAuthToken string
	Channel    string
	URL        string
}

type Telegram struct {
	Enabled     bool
	Token       string
	PollTimeout time.Duration
	Owners      []int64
	Moderators  []int64
}

type OBS struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

type Capture struct {
	Source          string
	Width           int
	Height          int
	SaveScreenshots bool
	OutputFolder    string
	DataDir         string
	Serialize       bool
}

type Overlay struct {
	Enabled            bool
	Addr               string
	StaticDir          string
	Token              string
	AllowInsecure      bool
	AnimationDelay     int
	AnimationDirection string
	Metrics            bool
	Pprof              bool
	PprofPrefix        string
	ReadTimeout        time.Duration
	IdleTimeout        time.Duration
	TestImageWidth     int
	TestImageHeight    int
}

type Webhook struct {
	Enabled    bool
	URL        string
	BotName    string
	Template   string
	Timeout    time.Duration
	RatePerSec float64
}

type Schedule struct {
	Enabled  bool
	Spec     string
	Location *time.Location
}

type Storage struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// DefaultDataDir is <user config dir>/irlshots, or a temp dir when the user
// config dir is unknown.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "irlshots")
}

// Resolve applies defaults and validates cfg. A nil cfg resolves to defaults.
func Resolve(cfg *Config) (Snapshot, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var s Snapshot
	var err error

	// chat
	s.Command = strings.TrimSpace(cfg.Chat.Command)
	if s.Command == "" {
		s.Command = DefaultCommand
	}
	if strings.TrimLeft(s.Command, "!/") == "" {
		return Snapshot{}, fmt.Errorf("chat.command: %q has no name after the prefix", cfg.Chat.Command)
	}
	if cfg.Chat.Permissions == nil {
		s.Permissions = permission.Policy{Everyone: true}
	} else {
		s.Permissions = *cfg.Chat.Permissions
	}

	rl := cfg.Chat.RateLimit
	if rl.MaxTriggers < 0 {
		return Snapshot{}, fmt.Errorf("chat.rate_limit.max_triggers: must be >= 0")
	}
	s.RateLimit.Max = rl.MaxTriggers
	if s.RateLimit.Max == 0 {
		s.RateLimit.Max = ratelimit.DefaultMax
	}
	if s.RateLimit.Window, err = parseBounded("chat.rate_limit.window", rl.Window, ratelimit.DefaultWindow, maxRateWindow); err != nil {
		return Snapshot{}, err
	}
	if s.RateLimit.Retention, err = ParseDurationOrDefault("chat.rate_limit.retention", rl.Retention, ratelimit.DefaultRetention); err != nil {
		return Snapshot{}, err
	}
	switch strings.ToLower(strings.TrimSpace(rl.Scope)) {
	case "", "global", "channel", "user":
	default:
		return Snapshot{}, fmt.Errorf("chat.rate_limit.scope: unknown scope %q", rl.Scope)
	}
	s.RateLimit.Scope = ratelimit.ParseScope(rl.Scope)

	tw := cfg.Chat.Twitch
	s.Twitch = Twitch{
		Enabled:    tw.Enabled,
		Username:   strings.ToLower(strings.TrimSpace(tw.Username)),
		OAuthToken: strings.TrimSpace(tw.OAuthToken),
		Channel:    strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tw.Channel), "#")),
		URL:        strings.TrimSpace(tw.URL),
	}
	if s.Twitch.URL == "" {
		s.Twitch.URL = DefaultTwitchURL
	}
	if s.Twitch.Enabled && s.Twitch.Channel == "" {
		return Snapshot{}, fmt.Errorf("chat.twitch.channel: required when twitch is enabled")
	}

	tg := cfg.Chat.Telegram
	s.Telegram = Telegram{
		Enabled:    tg.Enabled,
		Token:      strings.TrimSpace(tg.Token),
		Owners:     append([]int64(nil), tg.OwnerUserIDs...),
		Moderators: append([]int64(nil), tg.ModeratorUserIDs...),
	}
	if s.Telegram.PollTimeout, err = parseBounded("chat.telegram.poll_timeout", tg.PollTimeout, DefaultPollTimeout, maxPollTimeout); err != nil {
		return Snapshot{}, err
	}
	if s.Telegram.Enabled && s.Telegram.Token == "" {
		return Snapshot{}, fmt.Errorf("chat.telegram.token: required when telegram is enabled")
	}

	// obs
	s.OBS = OBS{Host: strings.TrimSpace(cfg.OBS.Host), Port: cfg.OBS.Port, Password: cfg.OBS.Password}
	if s.OBS.Host == "" {
		s.OBS.Host = DefaultOBSHost
	}
	if s.OBS.Port == 0 {
		s.OBS.Port = DefaultOBSPort
	}
	if s.OBS.Port < 0 || s.OBS.Port > 65535 {
		return Snapshot{}, fmt.Errorf("obs.port: %d out of range", cfg.OBS.Port)
	}
	if s.OBS.Timeout, err = parseBounded("obs.timeout", cfg.OBS.Timeout, DefaultOBSTimeout, maxRequestTimeout); err != nil {
		return Snapshot{}, err
	}

	// capture
	c := cfg.Capture
	if c.Width < 0 || c.Height < 0 {
		return Snapshot{}, fmt.Errorf("capture: width/height must be >= 0")
	}
	s.Capture = Capture{
		Source:          strings.TrimSpace(c.Source),
		Width:           c.Width,
		Height:          c.Height,
		SaveScreenshots: c.SaveScreenshots,
		OutputFolder:    strings.TrimSpace(c.OutputFolder),
		DataDir:         strings.TrimSpace(c.DataDir),
		Serialize:       c.Serialize,
	}
	if s.Capture.DataDir == "" {
		s.Capture.DataDir = DefaultDataDir()
	}

	// overlay
	o := cfg.Overlay
	s.Overlay = Overlay{
		Enabled:            BoolOr(o.Enabled, true),
		Addr:               strings.TrimSpace(o.Addr),
		StaticDir:          strings.TrimSpace(o.StaticDir),
		Token:              strings.TrimSpace(o.Token),
		AllowInsecure:      o.AllowInsecure,
		AnimationDelay:     o.AnimationDelay,
		AnimationDirection: strings.ToLower(strings.TrimSpace(o.AnimationDirection)),
		Metrics:            BoolOr(o.Metrics, true),
		Pprof:              o.Pprof,
		PprofPrefix:        strings.TrimSpace(o.PprofPrefix),
		TestImageWidth:     o.TestImageWidth,
		TestImageHeight:    o.TestImageHeight,
	}
	if s.Overlay.Addr == "" {
		s.Overlay.Addr = DefaultOverlayAddr
	}
	if s.Overlay.AnimationDelay <= 0 {
		s.Overlay.AnimationDelay = DefaultAnimationDelay
	}
	if s.Overlay.AnimationDirection == "" {
		s.Overlay.AnimationDirection = DefaultAnimationDirection
	}
	if s.Overlay.TestImageWidth <= 0 {
		s.Overlay.TestImageWidth = DefaultTestImageWidth
	}
	if s.Overlay.TestImageHeight <= 0 {
		s.Overlay.TestImageHeight = DefaultTestImageHeight
	}
	if s.Overlay.ReadTimeout, err = ParseDurationOrDefault("overlay.read_timeout", o.ReadTimeout, DefaultReadTimeout); err != nil {
		return Snapshot{}, err
	}
	if s.Overlay.IdleTimeout, err = ParseDurationOrDefault("overlay.idle_timeout", o.IdleTimeout, DefaultIdleTimeout); err != nil {
		return Snapshot{}, err
	}

	// webhook
	w := cfg.Webhook
	s.Webhook = Webhook{
		Enabled:    w.Enabled,
		URL:        strings.TrimSpace(w.URL),
		BotName:    strings.TrimSpace(w.BotName),
		Template:   w.MessageTemplate,
		RatePerSec: w.RatePerSec,
	}
	if s.Webhook.BotName == "" {
		s.Webhook.BotName = DefaultWebhookBotName
	}
	if strings.TrimSpace(s.Webhook.Template) == "" {
		s.Webhook.Template = DefaultWebhookTemplate
	}
	if s.Webhook.RatePerSec <= 0 {
		s.Webhook.RatePerSec = 1
	}
	if s.Webhook.Timeout, err = parseBounded("webhook.timeout", w.Timeout, DefaultWebhookTimeout, maxRequestTimeout); err != nil {
		return Snapshot{}, err
	}

	// schedule
	s.Schedule = Schedule{Enabled: cfg.Schedule.Enabled, Spec: strings.TrimSpace(cfg.Schedule.Spec), Location: time.Local}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			return Snapshot{}, fmt.Errorf("schedule.timezone: %w", lerr)
		}
		s.Schedule.Location = loc
	}
	if s.Schedule.Enabled && s.Schedule.Spec == "" {
		return Snapshot{}, fmt.Errorf("schedule.spec: required when schedule is enabled")
	}

	// logging
	l := cfg.Logging
	s.Logging = logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Dir: strings.TrimSpace(l.File.Dir)},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			Channel:    strings.TrimSpace(l.Alert.ChatID),
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
	if s.Logging.File.Enabled && s.Logging.File.Dir == "" {
		s.Logging.File.Dir = filepath.Join(s.Capture.DataDir, "logs")
	}

	// storage
	s.Storage = Storage{Driver: DefaultStorageDriver, BusyTimeout: DefaultBusyTimeout}
	if st := cfg.Storage; st != nil {
		if d := strings.ToLower(strings.TrimSpace(st.Driver)); d != "" {
			s.Storage.Driver = d
		}
		s.Storage.Path = strings.TrimSpace(st.Path)
		if s.Storage.BusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", st.BusyTimeout, DefaultBusyTimeout); err != nil {
			return Snapshot{}, err
		}
	}
	switch s.Storage.Driver {
	case "file", "sqlite", "none":
	default:
		return Snapshot{}, fmt.Errorf("storage.driver: unknown driver %q", s.Storage.Driver)
	}
	if s.Storage.Path == "" && s.Storage.Driver != "none" {
		name := "history"
		if s.Storage.Driver == "sqlite" {
			name = "history.db"
		}
		s.Storage.Path = filepath.Join(s.Capture.DataDir, name)
	}

	return s, nil
}
