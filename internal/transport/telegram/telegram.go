package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"irlshots/internal/permission"
	rtsup "irlshots/internal/runtime/supervisor"
	"irlshots/internal/transport"
	logx "irlshots/pkg/logx"
)

const Name = "telegram"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Owners are treated as the broadcaster, moderators as chat moderators.
	Owners     []int64
	Moderators []int64

	// Offline skips the getMe call; used by tests.
	Offline bool
}

// Adapter receives chat messages through long polling and sends alert text.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	owners map[int64]bool
	mods   map[int64]bool

	out     atomic.Value // chan<- transport.Message
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, owners: idSet(cfg.Owners), mods: idSet(cfg.Moderators)}
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)

	b.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.deliver(a.toMessage(m))
		}
		return nil
	})
	return a, nil
}

func idSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) botUsername() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// toMessage maps a telegram message to a chat message. "/shot@mybot args"
// becomes "/shot args" when addressed to this bot.
func (a *Adapter) toMessage(m *tele.Message) transport.Message {
	msg := transport.Message{
		Transport:  Name,
		Text:       stripBotSuffix(m.Text, a.botUsername()),
		ReceivedAt: time.Now(),
		Roles:      permission.NewRoleSet(),
	}
	if m.Chat != nil {
		msg.Channel = strconv.FormatInt(m.Chat.ID, 10)
	}
	if u := m.Sender; u != nil {
		msg.UserID = strconv.FormatInt(u.ID, 10)
		msg.UserName = u.Username
		if msg.UserName == "" {
			msg.UserName = strings.TrimSpace(u.FirstName + " " + u.LastName)
		}
		if a.owners[u.ID] {
			msg.Roles[permission.RoleBroadcaster] = true
		}
		if a.mods[u.ID] {
			msg.Roles[permission.RoleModerator] = true
		}
		msg.IsSelf = u.IsBot && a.bot.Me != nil && u.ID == a.bot.Me.ID
	}
	return msg
}

func stripBotSuffix(text, bot string) string {
	first, rest, _ := strings.Cut(text, " ")
	cmd, target, ok := strings.Cut(first, "@")
	if !ok || !strings.HasPrefix(cmd, "/") {
		return text
	}
	if bot != "" && !strings.EqualFold(target, bot) {
		return text
	}
	if rest == "" {
		return cmd
	}
	return cmd + " " + rest
}

func (a *Adapter) deliver(m transport.Message) {
	out, _ := a.out.Load().(chan<- transport.Message)
	if out == nil {
		return
	}
	select {
	case out <- m:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telegram.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("incoming messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; if it returns early while we are still running,
	// restart it.
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// ParseTarget reads "chatID" or "chatID:threadID".
func ParseTarget(channel string) (chatID int64, threadID int, err error) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(channel), ":")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid chat id %q", channel)
	}
	if hasThread {
		threadID, err = strconv.Atoi(thread)
		if err != nil {
			return 0, 0, fmt.Errorf("telegram: invalid thread id %q", channel)
		}
	}
	return chatID, threadID, nil
}

// SendText posts plain text to channel ("chatID" or "chatID:threadID").
func (a *Adapter) SendText(ctx context.Context, channel, text string) error {
	chatID, threadID, err := ParseTarget(channel)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}
