package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"irlshots/internal/capture"
)

type fakeSink struct {
	name  string
	err   error
	panic bool
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(ctx context.Context, p Payload) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panic {
		panic("boom")
	}
	return f.err
}

func okResult() capture.Result {
	return capture.Result{ImagePath: "/tmp/x.png", Image: []byte{1, 2, 3}, CapturedAt: time.Now()}
}

func TestPublishFailureInvokesNoSink(t *testing.T) {
	a := &fakeSink{name: "a"}
	res := capture.Result{Err: &capture.Error{Kind: capture.KindConnection, Op: "connect"}}
	outs := Publish(context.Background(), res, a)
	if len(outs) != 0 || a.calls.Load() != 0 {
		t.Fatalf("expected no deliveries, got %d outcomes and %d calls", len(outs), a.calls.Load())
	}
}

func TestPublishIsolatesSinkFailures(t *testing.T) {
	ok := &fakeSink{name: "overlay"}
	bad := &fakeSink{name: "webhook", err: errors.New("dial tcp: refused")}
	boom := &fakeSink{name: "panicky", panic: true}

	outs := Publish(context.Background(), okResult(), ok, bad, boom)
	if len(outs) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outs))
	}
	if !outs[0].OK || outs[0].Sink != "overlay" {
		t.Fatalf("expected overlay success, got %+v", outs[0])
	}
	var se *SinkError
	if outs[1].OK || !errors.As(outs[1].Err, &se) || se.Sink != "webhook" {
		t.Fatalf("expected webhook SinkError, got %+v", outs[1])
	}
	if outs[2].OK || outs[2].Err == nil {
		t.Fatalf("expected recovered panic outcome, got %+v", outs[2])
	}
	if n := len(Failed(outs)); n != 2 {
		t.Fatalf("expected 2 failed, got %d", n)
	}
}

func TestPublishRunsSinksConcurrently(t *testing.T) {
	a := &fakeSink{name: "a", delay: 100 * time.Millisecond}
	b := &fakeSink{name: "b", delay: 100 * time.Millisecond}
	start := time.Now()
	Publish(context.Background(), okResult(), a, b)
	if took := time.Since(start); took >= 190*time.Millisecond {
		t.Fatalf("expected concurrent delivery, took %s", took)
	}
}
