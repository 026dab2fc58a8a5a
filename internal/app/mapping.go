package app

import (
	"fmt"

	"irlshots/internal/config"
	"irlshots/internal/overlay"
	"irlshots/internal/schedule"
	"irlshots/internal/storage"
	"irlshots/internal/transport/telegram"
	"irlshots/internal/transport/twitch"
)

func overlayServerConfig(s config.Snapshot) overlay.ServerConfig {
	o := s.Overlay
	return overlay.ServerConfig{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		StaticDir:     o.StaticDir,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		PprofPrefix:   o.PprofPrefix,
		ReadTimeout:   o.ReadTimeout,
		IdleTimeout:   o.IdleTimeout,
	}
}

// storageConfig returns ok=false when history is disabled.
func storageConfig(s config.Snapshot) (storage.Config, bool) {
	if s.Storage.Driver == "" || s.Storage.Driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{Driver: s.Storage.Driver, Path: s.Storage.Path, BusyTimeout: s.Storage.BusyTimeout}, true
}

func scheduleConfig(s config.Snapshot) schedule.Config {
	return schedule.Config{Enabled: s.Schedule.Enabled, Spec: s.Schedule.Spec, Location: s.Schedule.Location}
}

func twitchConfig(s config.Snapshot) twitch.Config {
	return twitch.Config{
		URL:        s.Twitch.URL,
		Username:   s.Twitch.Username,
		OAuthToken: s.Twitch.OAuthToken,
		Channel:    s.Twitch.Channel,
	}
}

func telegramConfig(s config.Snapshot) telegram.Config {
	return telegram.Config{
		Token:       s.Telegram.Token,
		PollTimeout: s.Telegram.PollTimeout,
		Owners:      s.Telegram.Owners,
		Moderators:  s.Telegram.Moderators,
	}
}

// transportKeys identify the running configuration of each transport; an
// empty key means disabled. Keys contain secrets and are never logged.
func transportKeys(s config.Snapshot) map[string]string {
	keys := map[string]string{twitch.Name: "", telegram.Name: ""}
	if s.Twitch.Enabled {
		keys[twitch.Name] = fmt.Sprintf("%+v", twitchConfig(s))
	}
	if s.Telegram.Enabled {
		keys[telegram.Name] = fmt.Sprintf("%+v", telegramConfig(s))
	}
	return keys
}

// validate rejects a config that cannot be resolved into a runnable
// snapshot. It runs before every commit, including hot reloads.
func validate(cfg *config.Config) error {
	s, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if s.Schedule.Enabled {
		return schedule.Validate(s.Schedule.Spec)
	}
	return nil
}
