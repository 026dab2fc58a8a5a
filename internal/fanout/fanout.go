package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"irlshots/internal/capture"
)

// Payload is what a sink receives for one successful capture.
type Payload struct {
	ID         string
	Image      []byte
	ImagePath  string
	CapturedAt time.Time
}

// Sink delivers a captured image somewhere. Implementations must be safe for
// concurrent use and must not retain Image after Deliver returns.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, p Payload) error
}

// SinkError wraps a failure from one sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink %s: %v", e.Sink, e.Err) }
func (e *SinkError) Unwrap() error { return e.Err }

// Outcome is the per-sink result of a Publish.
type Outcome struct {
	Sink string        `json:"sink"`
	OK   bool          `json:"ok"`
	Err  error         `json:"-"`
	Took time.Duration `json:"took"`
}

// Publish delivers res to every sink concurrently and collects outcomes in
// sink order. A failed capture invokes no sink. Sinks never affect each
// other: errors and panics are contained in their own Outcome.
func Publish(ctx context.Context, res capture.Result, sinks ...Sink) []Outcome {
	if !res.OK() || len(sinks) == 0 {
		return nil
	}
	p := Payload{
		ID:         res.ID,
		Image:      res.Image,
		ImagePath:  res.ImagePath,
		CapturedAt: res.CapturedAt,
	}

	out := make([]Outcome, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		if s == nil {
			out[i] = Outcome{Sink: "nil", Err: &SinkError{Sink: "nil", Err: fmt.Errorf("nil sink")}}
			continue
		}
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			out[i] = deliver(ctx, s, p)
		}(i, s)
	}
	wg.Wait()
	return out
}

func deliver(ctx context.Context, s Sink, p Payload) (o Outcome) {
	name := s.Name()
	start := time.Now()
	o.Sink = name
	defer func() {
		if r := recover(); r != nil {
			o.OK = false
			o.Err = &SinkError{Sink: name, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
		o.Took = time.Since(start)
	}()
	if err := s.Deliver(ctx, p); err != nil {
		o.Err = &SinkError{Sink: name, Err: err}
		return o
	}
	o.OK = true
	return o
}

// Failed returns the failed outcomes.
func Failed(outs []Outcome) []Outcome {
	var bad []Outcome
	for _, o := range outs {
		if !o.OK {
			bad = append(bad, o)
		}
	}
	return bad
}
