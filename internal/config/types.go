package config

import "irlshots/internal/permission"

type Config struct {
	Chat     ChatConfig     `json:"chat"`
	OBS      OBSConfig      `json:"obs"`
	Capture  CaptureConfig  `json:"capture"`
	Overlay  OverlayConfig  `json:"overlay"`
	Webhook  WebhookConfig  `json:"webhook"`
	Schedule ScheduleConfig `json:"schedule"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// ChatConfig controls how chat triggers are recognized and gated.
//
// Defaults (when fields are omitted/zero):
//   - command: "!shot" (leading "!" or "/" is ignored when matching)
//   - permissions: everyone=true when the whole block is omitted
type ChatConfig struct {
	Command     string             `json:"command"`
	Permissions *permission.Policy `json:"permissions,omitempty"`
	RateLimit   RateLimitConfig    `json:"rate_limit"`

	Twitch   TwitchConfig   `json:"twitch"`
	Telegram TelegramConfig `json:"telegram"`
}

// RateLimitConfig bounds how often chat may trigger a capture.
//
// All durations are Go duration strings (e.g. "10s", "1m").
//
// Defaults:
//   - max_triggers: 3
//   - window: "10s"
//   - retention: "60s"
//   - scope: "global" (or "channel", "user")
type RateLimitConfig struct {
	MaxTriggers int    `json:"max_triggers,omitempty"`
	Window      string `json:"window,omitempty"`
	Retention   string `json:"retention,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

type TwitchConfig struct {
	Enabled    bool   `json:"enabled"`
	Username   string `json:"username"`
	OAuthToken string `json:"oauth_token"` // do not log
	Channel    string `json:"channel"`
	// URL defaults to wss://irc-ws.chat.twitch.tv:443.
	URL string `json:"url,omitempty"`
}

// TelegramConfig enables the Telegram chat transport.
// Owners map to the broadcaster role, moderators to the moderator role.
type TelegramConfig struct {
	Enabled          bool    `json:"enabled"`
	Token            string  `json:"token"` // do not log
	OwnerUserIDs     []int64 `json:"owner_user_ids,omitempty"`
	ModeratorUserIDs []int64 `json:"moderator_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// OBSConfig addresses the obs-websocket server.
//
// Defaults: host "localhost", port 4455, timeout "10s".
// Timeout bounds one whole capture (connect + request + read-back).
type OBSConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password,omitempty"` // do not log
	Timeout  string `json:"timeout,omitempty"`
}

// CaptureConfig selects the source and where screenshots go.
//
// Defaults:
//   - width/height: 1280x720
//   - data_dir: <user config dir>/irlshots
//   - output: <data_dir>/screenshots unless save_screenshots and output_folder are set
//   - serialize: false (overlapping captures run concurrently)
type CaptureConfig struct {
	Source          string `json:"source"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	SaveScreenshots bool   `json:"save_screenshots"`
	OutputFolder    string `json:"output_folder,omitempty"`
	DataDir         string `json:"data_dir,omitempty"`
	Serialize       bool   `json:"serialize,omitempty"`
}

// OverlayConfig controls the browser overlay server and control API.
//
// Security note:
//   - The control API (/api/) and pprof need a token unless addr is loopback
//     or allow_insecure is set.
//
// Defaults: enabled, addr ":3456", animation_delay 5000 (ms),
// animation_direction "left", metrics enabled.
type OverlayConfig struct {
	Enabled            *bool  `json:"enabled,omitempty"`
	Addr               string `json:"addr,omitempty"`
	StaticDir          string `json:"static_dir,omitempty"`
	Token              string `json:"token,omitempty"` // do not log
	AllowInsecure      bool   `json:"allow_insecure,omitempty"`
	AnimationDelay     int    `json:"animation_delay,omitempty"`
	AnimationDirection string `json:"animation_direction,omitempty"`
	Metrics            *bool  `json:"metrics,omitempty"`
	Pprof              bool   `json:"pprof,omitempty"`
	PprofPrefix        string `json:"pprof_prefix,omitempty"`
	ReadTimeout        string `json:"read_timeout,omitempty"`
	IdleTimeout        string `json:"idle_timeout,omitempty"`
	TestImageWidth     int    `json:"test_image_width,omitempty"`
	TestImageHeight    int    `json:"test_image_height,omitempty"`
}

// WebhookConfig forwards captures to a Discord-compatible webhook.
//
// Defaults: bot_name "IRLshots Bot", message_template
// "New screenshot taken at {time}", timeout "15s", rate_per_sec 1.
type WebhookConfig struct {
	Enabled         bool    `json:"enabled"`
	URL             string  `json:"url"` // do not log
	BotName         string  `json:"bot_name,omitempty"`
	MessageTemplate string  `json:"message_template,omitempty"`
	Timeout         string  `json:"timeout,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
}

// ScheduleConfig runs captures on a cron spec (robfig/cron, optional seconds
// field, descriptors like "@every 5m").
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

// LoggingFile writes <dir>/app-YYYY-MM-DD.log. dir defaults to <data_dir>/logs.
type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
}

// LoggingAlert forwards warnings to a Telegram chat via the Telegram transport.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the capture history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./irlshots_history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
