package telegram

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"irlshots/internal/permission"
	logx "irlshots/pkg/logx"
)

func newOffline(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{Token: "123:abc", Owners: []int64{1}, Moderators: []int64{2}, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a.bot.Me = &tele.User{ID: 99, Username: "ShotBot", IsBot: true}
	return a
}

func TestToMessageRoles(t *testing.T) {
	a := newOffline(t)
	chat := &tele.Chat{ID: -100}

	owner := a.toMessage(&tele.Message{Chat: chat, Sender: &tele.User{ID: 1, Username: "boss"}, Text: "/shot@ShotBot now"})
	if !owner.Roles.Has(permission.RoleBroadcaster) || owner.Text != "/shot now" || owner.Channel != "-100" || owner.UserID != "1" {
		t.Fatalf("unexpected owner message %+v", owner)
	}
	mod := a.toMessage(&tele.Message{Chat: chat, Sender: &tele.User{ID: 2, FirstName: "Mo"}, Text: "/shot"})
	if !mod.Roles.Has(permission.RoleModerator) || mod.Roles.Has(permission.RoleBroadcaster) || mod.UserName != "Mo" {
		t.Fatalf("unexpected moderator message %+v", mod)
	}
	self := a.toMessage(&tele.Message{Chat: chat, Sender: &tele.User{ID: 99, IsBot: true}, Text: "/shot"})
	if !self.IsSelf {
		t.Fatalf("expected self message")
	}
}

func TestStripBotSuffix(t *testing.T) {
	cases := []struct{ in, bot, want string }{
		{"/shot@ShotBot", "shotbot", "/shot"},
		{"/shot@OtherBot x", "shotbot", "/shot@OtherBot x"},
		{"!shot@ShotBot", "shotbot", "!shot@ShotBot"},
		{"hello", "shotbot", "hello"},
		{"/shot@Any", "", "/shot"},
	}
	for _, c := range cases {
		if got := stripBotSuffix(c.in, c.bot); got != c.want {
			t.Fatalf("%q: expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestParseTarget(t *testing.T) {
	chat, thread, err := ParseTarget("-1001:42")
	if err != nil || chat != -1001 || thread != 42 {
		t.Fatalf("unexpected %d %d %v", chat, thread, err)
	}
	if _, _, err := ParseTarget("ops"); err == nil {
		t.Fatalf("expected error for non-numeric chat")
	}
}

func TestSplitText(t *testing.T) {
	long := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	parts := splitText(long, 40)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 30) || parts[1] != strings.Repeat("b", 30) {
		t.Fatalf("unexpected split %q", parts)
	}
	if got := splitText("short", 40); len(got) != 1 {
		t.Fatalf("expected single chunk, got %d", len(got))
	}
}
