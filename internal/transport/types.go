package transport

import (
	"context"
	"time"

	"irlshots/internal/permission"
)

// Message is one inbound chat line, normalized across transports.
type Message struct {
	Transport  string // "twitch", "telegram"
	Channel    string
	UserID     string
	UserName   string
	Roles      permission.RoleSet
	Text       string
	IsSelf     bool // sent by the bot's own account
	ReceivedAt time.Time
}

// Adapter is a chat connection that delivers messages until stopped.
//
// Start must not block; delivery to out is non-blocking and messages are
// dropped when the consumer falls behind.
type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// Sender posts plain text to a chat channel of the transport.
type Sender interface {
	SendText(ctx context.Context, channel, text string) error
}
