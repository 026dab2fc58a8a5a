package twitch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"irlshots/internal/permission"
	"irlshots/internal/transport"
	logx "irlshots/pkg/logx"
)

func TestParseLine(t *testing.T) {
	raw := `@badges=moderator/1,subscriber/12;display-name=Some\sOne;user-id=42 :someone!someone@someone.tmi.twitch.tv PRIVMSG #chan :!SHOT please`
	l, ok := ParseLine(raw + "\r\n")
	if !ok {
		t.Fatalf("expected parse")
	}
	if l.Command != "PRIVMSG" || l.Nick() != "someone" || l.Trailing() != "!SHOT please" || l.Params[0] != "#chan" {
		t.Fatalf("unexpected line %+v", l)
	}
	if l.Tags["display-name"] != "Some One" || l.Tags["user-id"] != "42" {
		t.Fatalf("unexpected tags %v", l.Tags)
	}
	roles := RolesFromTags(l.Tags)
	if !roles.Has(permission.RoleModerator) || !roles.Has(permission.RoleSubscriber) || roles.Has(permission.RoleBroadcaster) {
		t.Fatalf("unexpected roles %v", roles.Names())
	}

	ping, ok := ParseLine("PING :tmi.twitch.tv")
	if !ok || ping.Command != "PING" || ping.Trailing() != "tmi.twitch.tv" {
		t.Fatalf("unexpected ping %+v", ping)
	}
	if _, ok := ParseLine(""); ok {
		t.Fatalf("expected empty line to fail")
	}
}

func TestRolesFromTagsBroadcasterAndFounder(t *testing.T) {
	rs := RolesFromTags(map[string]string{"badges": "broadcaster/1,founder/0"})
	if !rs.Has(permission.RoleBroadcaster) || !rs.Has(permission.RoleSubscriber) {
		t.Fatalf("unexpected roles %v", rs.Names())
	}
	if len(RolesFromTags(map[string]string{})) != 0 {
		t.Fatalf("expected no roles")
	}
}

func TestAdapterSession(t *testing.T) {
	pong := make(chan string, 1)
	login := make(chan []string, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var lines []string
		for len(lines) < 4 {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			lines = append(lines, strings.TrimSpace(string(data)))
		}
		login <- lines
		_ = c.WriteMessage(websocket.TextMessage, []byte("PING :tmi.twitch.tv\r\n"+
			"@badges=vip/1;user-id=7 :viewer!viewer@viewer PRIVMSG #chan :!shot\r\n"+
			":bot!bot@bot PRIVMSG #chan :!shot\r\n"))
		_, data, err := c.ReadMessage()
		if err == nil {
			pong <- strings.TrimSpace(string(data))
		}
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	a, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Username: "Bot", OAuthToken: "tok", Channel: "#Chan"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out := make(chan transport.Message, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, out); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(context.Background())

	select {
	case lines := <-login:
		want := []string{"CAP REQ :twitch.tv/tags twitch.tv/commands", "PASS oauth:tok", "NICK bot", "JOIN #chan"}
		if strings.Join(lines, "|") != strings.Join(want, "|") {
			t.Fatalf("unexpected login %q", lines)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no login")
	}

	select {
	case p := <-pong:
		if p != "PONG :tmi.twitch.tv" {
			t.Fatalf("unexpected pong %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no pong")
	}

	var got []transport.Message
	for len(got) < 2 {
		select {
		case m := <-out:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 messages, got %d", len(got))
		}
	}
	if got[0].IsSelf || got[0].UserID != "7" || got[0].Channel != "chan" || !got[0].Roles.Has(permission.RoleVIP) || got[0].Text != "!shot" {
		t.Fatalf("unexpected viewer message %+v", got[0])
	}
	if !got[1].IsSelf {
		t.Fatalf("expected bot message to be marked self")
	}
}
