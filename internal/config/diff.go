package config

import (
	"reflect"
	"sort"
	"strings"

	logx "irlshots/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Secrets (oauth tokens, passwords,
// webhook urls, api tokens) are only reported as "*_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Chat (gate + transports)
	oc, nc := oldCfg.Chat, newCfg.Chat
	if strings.TrimSpace(oc.Command) != strings.TrimSpace(nc.Command) ||
		!reflect.DeepEqual(oc.Permissions, nc.Permissions) ||
		oc.RateLimit != nc.RateLimit {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.String("chat.command", strings.TrimSpace(nc.Command)),
			logx.Bool("chat.permissions_set", nc.Permissions != nil),
			logx.Int("chat.rate_limit.max_triggers", nc.RateLimit.MaxTriggers),
			logx.String("chat.rate_limit.window", strings.TrimSpace(nc.RateLimit.Window)),
			logx.String("chat.rate_limit.scope", strings.TrimSpace(nc.RateLimit.Scope)),
		)
	}
	if oc.Twitch.Enabled != nc.Twitch.Enabled ||
		!strings.EqualFold(strings.TrimSpace(oc.Twitch.Username), strings.TrimSpace(nc.Twitch.Username)) ||
		!strings.EqualFold(strings.TrimSpace(oc.Twitch.Channel), strings.TrimSpace(nc.Twitch.Channel)) ||
		strings.TrimSpace(oc.Twitch.URL) != strings.TrimSpace(nc.Twitch.URL) ||
		oc.Twitch.OAuthToken != nc.Twitch.OAuthToken {
		changed = append(changed, "twitch")
		attrs = append(attrs,
			logx.Bool("twitch.enabled", nc.Twitch.Enabled),
			logx.String("twitch.channel", strings.TrimSpace(nc.Twitch.Channel)),
			logx.Bool("twitch.oauth_set", strings.TrimSpace(nc.Twitch.OAuthToken) != ""),
		)
	}
	// Telegram (never log token)
	if oc.Telegram.Enabled != nc.Telegram.Enabled ||
		oc.Telegram.Token != nc.Telegram.Token ||
		strings.TrimSpace(oc.Telegram.PollTimeout) != strings.TrimSpace(nc.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oc.Telegram.OwnerUserIDs, nc.Telegram.OwnerUserIDs) ||
		!reflect.DeepEqual(oc.Telegram.ModeratorUserIDs, nc.Telegram.ModeratorUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nc.Telegram.Enabled),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nc.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(nc.Telegram.OwnerUserIDs)),
			logx.Int("telegram.moderator_count", len(nc.Telegram.ModeratorUserIDs)),
		)
	}

	if oldCfg.OBS != newCfg.OBS {
		changed = append(changed, "obs")
		attrs = append(attrs,
			logx.String("obs.host", strings.TrimSpace(newCfg.OBS.Host)),
			logx.Int("obs.port", newCfg.OBS.Port),
			logx.Bool("obs.password_set", newCfg.OBS.Password != ""),
			logx.String("obs.timeout", strings.TrimSpace(newCfg.OBS.Timeout)),
		)
	}

	if oldCfg.Capture != newCfg.Capture {
		changed = append(changed, "capture")
		attrs = append(attrs,
			logx.String("capture.source", newCfg.Capture.Source),
			logx.Int("capture.width", newCfg.Capture.Width),
			logx.Int("capture.height", newCfg.Capture.Height),
			logx.Bool("capture.save_screenshots", newCfg.Capture.SaveScreenshots),
			logx.Bool("capture.serialize", newCfg.Capture.Serialize),
		)
	}

	// Overlay (never log token)
	if !reflect.DeepEqual(oldCfg.Overlay, newCfg.Overlay) {
		changed = append(changed, "overlay")
		attrs = append(attrs,
			logx.Bool("overlay.enabled", BoolOr(newCfg.Overlay.Enabled, true)),
			logx.String("overlay.addr", strings.TrimSpace(newCfg.Overlay.Addr)),
			logx.Bool("overlay.token_set", strings.TrimSpace(newCfg.Overlay.Token) != ""),
			logx.Bool("overlay.pprof", newCfg.Overlay.Pprof),
			logx.Bool("overlay.metrics", BoolOr(newCfg.Overlay.Metrics, true)),
		)
	}

	// Webhook (never log url: it embeds the webhook secret)
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Bool("webhook.enabled", newCfg.Webhook.Enabled),
			logx.Bool("webhook.url_set", strings.TrimSpace(newCfg.Webhook.URL) != ""),
			logx.String("webhook.bot_name", strings.TrimSpace(newCfg.Webhook.BotName)),
			logx.Float64("webhook.rate_per_sec", newCfg.Webhook.RatePerSec),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.spec", strings.TrimSpace(newCfg.Schedule.Spec)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	// Storage. Nil means defaults.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// BoolOr dereferences an optional bool.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
