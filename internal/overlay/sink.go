package overlay

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"irlshots/internal/fanout"
)

// Sink pushes newSnapshot to the hub. It succeeds once the message is
// accepted, whether or not any listener is connected.
type Sink struct {
	Hub       *Hub
	Animation Animation
	Now       func() time.Time
}

func (s Sink) Name() string { return "overlay" }

func (s Sink) Deliver(ctx context.Context, p fanout.Payload) error {
	if s.Hub == nil {
		return errors.New("overlay hub not running")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	a := s.Animation.normalized()
	_, err := s.Hub.Broadcast(Message{
		Event: EventNewSnapshot,
		Data: NewSnapshot{
			ImageData:          base64.StdEncoding.EncodeToString(p.Image),
			AnimationDelay:     a.Delay,
			AnimationDirection: a.Direction,
			Timestamp:          DisplayTime(now()),
		},
	})
	return err
}

// SendTestAnimation pushes a testAnimation event carrying png.
func (h *Hub) SendTestAnimation(png []byte, a Animation) (int, error) {
	a = a.normalized()
	return h.Broadcast(Message{
		Event: EventTestAnimation,
		Data: TestAnimation{
			ImageData:          base64.StdEncoding.EncodeToString(png),
			AnimationDelay:     a.Delay,
			AnimationDirection: a.Direction,
		},
	})
}
