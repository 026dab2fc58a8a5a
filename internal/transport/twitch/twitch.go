package twitch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	rtsup "irlshots/internal/runtime/supervisor"
	"irlshots/internal/transport"
	logx "irlshots/pkg/logx"
)

const (
	Name       = "twitch"
	DefaultURL = "wss://irc-ws.chat.twitch.tv:443"

	handshakeTimeout = 10 * time.Second
	// Twitch pings roughly every five minutes.
	readTimeout = 6 * time.Minute
)

var (
	ErrReconnect  = errors.New("twitch: server requested reconnect")
	ErrAuthFailed = errors.New("twitch: login authentication failed")
)

type Config struct {
	URL        string
	Username   string
	OAuthToken string // do not log
	Channel    string
}

// Adapter reads one channel's chat over the IRC WebSocket gateway and
// reconnects with backoff when the session drops.
type Adapter struct {
	cfg Config
	log logx.Logger

	out     atomic.Value // chan<- transport.Message
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64
	now     func() time.Time
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	if cfg.Channel == "" {
		return nil, errors.New("twitch channel is empty")
	}
	cfg.Username = strings.ToLower(strings.TrimSpace(cfg.Username))
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	a := &Adapter{cfg: cfg, log: log, now: time.Now}
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.GoRestart("twitch.irc", a.session,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && sup.Context().Err() == nil {
		return err
	}
	return nil
}

func (a *Adapter) nick() string {
	if a.cfg.OAuthToken == "" || a.cfg.Username == "" {
		// Read-only anonymous login.
		return fmt.Sprintf("justinfan%05d", rand.Intn(100000))
	}
	return a.cfg.Username
}

// session runs one connection until it drops. A nil return means the
// context was cancelled.
func (a *Adapter) session(ctx context.Context) error {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment}
	conn, _, err := d.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	nick := a.nick()
	login := []string{"CAP REQ :twitch.tv/tags twitch.tv/commands"}
	if a.cfg.OAuthToken != "" && a.cfg.Username != "" {
		tok := a.cfg.OAuthToken
		if !strings.HasPrefix(tok, "oauth:") {
			tok = "oauth:" + tok
		}
		login = append(login, "PASS "+tok)
	}
	login = append(login, "NICK "+nick, "JOIN #"+a.cfg.Channel)
	for _, l := range login {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(l+"\r\n")); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	a.log.Info("twitch connected", logx.String("channel", a.cfg.Channel), logx.Bool("anonymous", nick != a.cfg.Username))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		for _, raw := range strings.Split(string(data), "\r\n") {
			line, ok := ParseLine(raw)
			if !ok {
				continue
			}
			if err := a.handle(conn, line); err != nil {
				return err
			}
		}
	}
}

func (a *Adapter) handle(conn *websocket.Conn, l Line) error {
	switch l.Command {
	case "PING":
		return conn.WriteMessage(websocket.TextMessage, []byte("PONG :"+l.Trailing()+"\r\n"))
	case "RECONNECT":
		return ErrReconnect
	case "NOTICE":
		if strings.Contains(strings.ToLower(l.Trailing()), "authentication failed") {
			return ErrAuthFailed
		}
		a.log.Debug("twitch notice", logx.String("text", l.Trailing()))
	case "PRIVMSG":
		a.deliver(a.toMessage(l))
	}
	return nil
}

func (a *Adapter) toMessage(l Line) transport.Message {
	nick := strings.ToLower(l.Nick())
	m := transport.Message{
		Transport:  Name,
		UserID:     l.Tags["user-id"],
		UserName:   l.Tags["display-name"],
		Roles:      RolesFromTags(l.Tags),
		Text:       l.Trailing(),
		IsSelf:     a.cfg.Username != "" && nick == a.cfg.Username,
		ReceivedAt: a.now(),
	}
	if len(l.Params) > 0 {
		m.Channel = strings.TrimPrefix(l.Params[0], "#")
	}
	if m.UserID == "" {
		m.UserID = nick
	}
	if m.UserName == "" {
		m.UserName = nick
	}
	return m
}

func (a *Adapter) deliver(m transport.Message) {
	out, _ := a.out.Load().(chan<- transport.Message)
	if out == nil {
		return
	}
	select {
	case out <- m:
	default:
		if n := a.dropped.Add(1); n%50 == 1 {
			a.log.Warn("incoming messages dropped (channel full)", logx.Uint64("count", n))
		}
	}
}
