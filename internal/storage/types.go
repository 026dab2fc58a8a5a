package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file with an in-memory tail
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CaptureRecord is one pipeline run as kept in the capture history.
// Keep it compact and schema-stable.
type CaptureRecord struct {
	ID        string       `json:"id"`
	At        time.Time    `json:"at"`
	Origin    string       `json:"origin"` // chat, manual, schedule
	Transport string       `json:"transport,omitempty"`
	Channel   string       `json:"channel,omitempty"`
	Requester string       `json:"requester,omitempty"`
	Source    string       `json:"source"`
	OK        bool         `json:"ok"`
	ErrorKind string       `json:"error_kind,omitempty"`
	Error     string       `json:"error,omitempty"`
	ImagePath string       `json:"image_path,omitempty"`
	Bytes     int          `json:"bytes,omitempty"`
	TookMS    int64        `json:"took_ms"`
	Sinks     []SinkRecord `json:"sinks,omitempty"`
}

// SinkRecord is the outcome of one notification sink.
type SinkRecord struct {
	Sink  string `json:"sink"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

const (
	// DefaultRecentLimit applies when Recent is called with limit <= 0.
	DefaultRecentLimit = 20
	// MaxRecentLimit caps Recent.
	MaxRecentLimit = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return min(limit, MaxRecentLimit)
}
