package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"irlshots/internal/permission"
	"irlshots/internal/ratelimit"
)

func TestResolveDefaults(t *testing.T) {
	s, err := Resolve(nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Command != "!shot" {
		t.Fatalf("expected default command, got %q", s.Command)
	}
	if !s.Permissions.Everyone {
		t.Fatalf("expected everyone=true when permissions omitted")
	}
	if s.RateLimit.Max != 3 || s.RateLimit.Window != 10*time.Second || s.RateLimit.Retention != time.Minute {
		t.Fatalf("unexpected rate limit %+v", s.RateLimit)
	}
	if s.RateLimit.Scope != ratelimit.ScopeGlobal {
		t.Fatalf("expected global scope, got %s", s.RateLimit.Scope)
	}
	if s.OBS.Host != "localhost" || s.OBS.Port != 4455 || s.OBS.Timeout != 10*time.Second {
		t.Fatalf("unexpected obs %+v", s.OBS)
	}
	if !s.Overlay.Enabled || s.Overlay.Addr != ":3456" || s.Overlay.AnimationDelay != 5000 || s.Overlay.AnimationDirection != "left" {
		t.Fatalf("unexpected overlay %+v", s.Overlay)
	}
	if s.Webhook.BotName != "IRLshots Bot" || s.Webhook.Template != "New screenshot taken at {time}" || s.Webhook.Timeout != 15*time.Second {
		t.Fatalf("unexpected webhook %+v", s.Webhook)
	}
	if s.Storage.Driver != "file" || s.Storage.Path != filepath.Join(s.Capture.DataDir, "history") {
		t.Fatalf("unexpected storage %+v", s.Storage)
	}
	if !strings.HasSuffix(s.Capture.DataDir, "irlshots") {
		t.Fatalf("unexpected data dir %q", s.Capture.DataDir)
	}
}

func TestResolveExplicitPermissions(t *testing.T) {
	cfg := &Config{Chat: ChatConfig{Permissions: &permission.Policy{Moderator: true}}}
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Permissions.Everyone || !s.Permissions.Moderator {
		t.Fatalf("unexpected policy %+v", s.Permissions)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	cases := map[string]*Config{
		"bad window":      {Chat: ChatConfig{RateLimit: RateLimitConfig{Window: "soon"}}},
		"bad scope":       {Chat: ChatConfig{RateLimit: RateLimitConfig{Scope: "planet"}}},
		"bare prefix":     {Chat: ChatConfig{Command: "!"}},
		"twitch no chan":  {Chat: ChatConfig{Twitch: TwitchConfig{Enabled: true}}},
		"telegram no tok": {Chat: ChatConfig{Telegram: TelegramConfig{Enabled: true}}},
		"bad port":        {OBS: OBSConfig{Port: 70000}},
		"bad driver":      {Storage: &StorageConfig{Driver: "mongo"}},
		"schedule empty":  {Schedule: ScheduleConfig{Enabled: true}},
		"bad tz":          {Schedule: ScheduleConfig{Timezone: "Mars/Olympus"}},
		"obs timeout cap": {OBS: OBSConfig{Timeout: "10m"}},
		"negative window": {Chat: ChatConfig{RateLimit: RateLimitConfig{Window: "-5s"}}},
	}
	for name, cfg := range cases {
		if _, err := Resolve(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseBytesYAMLStrict(t *testing.T) {
	yml := []byte(`
chat:
  command: "!snap"
  rate_limit:
    max_triggers: 5
obs:
  host: 10.0.0.2
  port: 4444
capture:
  source: Camera
`)
	cfg, err := ParseBytes("config.yaml", yml)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Chat.Command != "!snap" || cfg.Chat.RateLimit.MaxTriggers != 5 || cfg.OBS.Port != 4444 || cfg.Capture.Source != "Camera" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := ParseBytes("config.yaml", []byte("sendToDiscord: true\n")); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if _, err := ParseBytes("config.json", []byte(`{"obs":{}} {"obs":{}}`)); err == nil {
		t.Fatalf("expected trailing data to be rejected")
	}
	if _, err := ParseBytes("config.yaml", []byte("obs:\n  4455: port\n")); err == nil || !strings.Contains(err.Error(), "obs") {
		t.Fatalf("expected non-string key to be rejected with its path, got %v", err)
	}

	// Without a known extension the content decides the format.
	cfg, err = ParseBytes("irlshots.conf", []byte("capture:\n  source: Cam\n"))
	if err != nil || cfg.Capture.Source != "Cam" {
		t.Fatalf("expected yaml content to be detected, got %+v %v", cfg, err)
	}
	cfg, err = ParseBytes("irlshots.conf", []byte(`{"capture":{"source":"Cam2"}}`))
	if err != nil || cfg.Capture.Source != "Cam2" {
		t.Fatalf("expected json content to be detected, got %+v %v", cfg, err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Webhook: WebhookConfig{URL: "https://discord.test/api/webhooks/1/secret"}}
	newCfg := &Config{
		Webhook: WebhookConfig{Enabled: true, URL: "https://discord.test/api/webhooks/2/other"},
		OBS:     OBSConfig{Password: "hunter2"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "obs,webhook" {
		t.Fatalf("unexpected sections %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got, _ := SummarizeConfigChange(newCfg, newCfg); len(got) != 0 {
		t.Fatalf("expected no change, got %v", got)
	}
}

func TestManagerLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"chat":{"command":"!shot"},"obs":{"port":4455}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewManager(path)
	calls := 0
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		calls++
		_, err := Resolve(cfg)
		return err
	})
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if calls != 1 || m.Get() != cfg {
		t.Fatalf("expected validated commit, calls=%d", calls)
	}

	ch := m.Subscribe(1)
	m.publish(&Config{})
	m.publish(cfg)
	if got := <-ch; got != cfg {
		t.Fatalf("expected latest config to win")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}
}

func TestManagerWatchPublishesChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"capture":{"source":"A"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and notices.
		_ = os.WriteFile(path, []byte(`{"capture":{"source":"B"}}`), 0o600)
		select {
		case cfg := <-ch:
			if cfg.Capture.Source != "B" {
				t.Fatalf("expected source B, got %q", cfg.Capture.Source)
			}
			return
		case <-deadline:
			t.Fatalf("no config published")
		case <-tick.C:
		}
	}
}

func TestExampleConfigResolves(t *testing.T) {
	path := filepath.Join("..", "..", "config.example.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	cfg, err := ParseBytes(path, data)
	if err != nil {
		t.Fatalf("parse example: %v", err)
	}
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve example: %v", err)
	}
	if !s.Twitch.Enabled || s.Twitch.Channel != "your_channel" || s.Permissions.Everyone || !s.Permissions.Moderator {
		t.Fatalf("unexpected chat settings %+v %+v", s.Twitch, s.Permissions)
	}
	if s.RateLimit.Max != 3 || s.RateLimit.Window != 10*time.Second || s.Storage.Driver != "file" {
		t.Fatalf("unexpected limits/storage %+v %+v", s.RateLimit, s.Storage)
	}
}
