package overlay

import "time"

// Event names understood by the browser overlay.
const (
	EventNewSnapshot   = "newSnapshot"
	EventTestAnimation = "testAnimation"
)

const (
	DefaultAnimationDelay     = 5000
	DefaultAnimationDirection = "left"
)

// Message is one frame sent to overlay listeners.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// NewSnapshot announces a captured image. ImageData is bare base64 PNG.
type NewSnapshot struct {
	ImageData          string `json:"imageData"`
	AnimationDelay     int    `json:"animationDelay"`
	AnimationDirection string `json:"animationDirection"`
	Timestamp          string `json:"timestamp"`
}

type TestAnimation struct {
	ImageData          string `json:"imageData"`
	AnimationDelay     int    `json:"animationDelay"`
	AnimationDirection string `json:"animationDirection"`
}

// Animation holds the overlay display knobs taken from a config snapshot.
type Animation struct {
	Delay     int
	Direction string
}

func (a Animation) normalized() Animation {
	if a.Delay <= 0 {
		a.Delay = DefaultAnimationDelay
	}
	if a.Direction == "" {
		a.Direction = DefaultAnimationDirection
	}
	return a
}

// DisplayTime formats t the way the overlay caption shows it.
func DisplayTime(t time.Time) string {
	return t.Local().Format("1/2/2006, 3:04:05 PM")
}
