package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "irlshots/pkg/logx"
)

func TestValidate(t *testing.T) {
	for _, ok := range []string{"@every 5m", "*/10 * * * * *", "0 */15 * * * *", "30 20 * * *"} {
		if err := Validate(ok); err != nil {
			t.Fatalf("%q: unexpected error %v", ok, err)
		}
	}
	if err := Validate("every now and then"); err == nil {
		t.Fatalf("expected invalid spec error")
	}
}

func TestServiceRunsAndStops(t *testing.T) {
	var runs atomic.Int32
	s := New(logx.Nop(), func(ctx context.Context) { runs.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, Config{Enabled: true, Spec: "@every 1s"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Next().IsZero() {
		t.Fatalf("expected next run")
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatalf("expected at least one run")
	}

	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatalf("expected schedule off")
	}
	s.Stop()
}

func TestApplyRejectsBadSpec(t *testing.T) {
	s := New(logx.Nop(), func(context.Context) {})
	if err := s.Start(context.Background(), Config{Enabled: true, Spec: "nope"}); err == nil {
		t.Fatalf("expected error")
	}
}
