package overlay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"irlshots/internal/fanout"
	logx "irlshots/pkg/logx"
)

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return h.Len() == 1 })
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	return Message{Event: raw.Event, Data: raw.Data}
}

func TestSinkBroadcastsNewSnapshot(t *testing.T) {
	h := NewHub(logx.Nop())
	conn, done := dialHub(t, h)
	defer done()

	at := time.Date(2024, 5, 1, 18, 4, 5, 0, time.Local)
	s := Sink{Hub: h, Now: func() time.Time { return at }}
	if err := s.Deliver(context.Background(), fanout.Payload{Image: []byte("png-bytes")}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Event != EventNewSnapshot {
		t.Fatalf("expected %s, got %s", EventNewSnapshot, msg.Event)
	}
	var snap NewSnapshot
	if err := json.Unmarshal(msg.Data.(json.RawMessage), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ImageData != base64.StdEncoding.EncodeToString([]byte("png-bytes")) {
		t.Fatalf("unexpected image data %q", snap.ImageData)
	}
	if snap.AnimationDelay != DefaultAnimationDelay || snap.AnimationDirection != DefaultAnimationDirection {
		t.Fatalf("expected default animation, got %d/%s", snap.AnimationDelay, snap.AnimationDirection)
	}
	if snap.Timestamp != "5/1/2024, 6:04:05 PM" {
		t.Fatalf("unexpected timestamp %q", snap.Timestamp)
	}
}

func TestBroadcastWithoutListeners(t *testing.T) {
	h := NewHub(logx.Nop())
	n, err := h.Broadcast(Message{Event: EventNewSnapshot, Data: NewSnapshot{}})
	if err != nil || n != 0 {
		t.Fatalf("expected 0 recipients and no error, got %d %v", n, err)
	}
}

func TestHubCountsAndClose(t *testing.T) {
	h := NewHub(logx.Nop())
	counts := make(chan int, 4)
	h.OnCount(func(n int) { counts <- n })

	conn, done := dialHub(t, h)
	defer done()
	if got := <-counts; got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}

	h.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("expected no listeners after close, got %d", h.Len())
	}
}

func TestSendTestAnimation(t *testing.T) {
	h := NewHub(logx.Nop())
	conn, done := dialHub(t, h)
	defer done()

	img, err := RenderTestImage(0, 0, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := h.SendTestAnimation(img, Animation{Delay: 2000, Direction: "right"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := readMessage(t, conn)
	var ta TestAnimation
	if err := json.Unmarshal(msg.Data.(json.RawMessage), &ta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != EventTestAnimation || ta.AnimationDelay != 2000 || ta.AnimationDirection != "right" {
		t.Fatalf("unexpected message %s %+v", msg.Event, ta)
	}
}

func TestRenderTestImageSize(t *testing.T) {
	data, err := RenderTestImage(320, 200, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 320 || b.Dy() != 200 {
		t.Fatalf("expected 320x200, got %dx%d", b.Dx(), b.Dy())
	}
	r, g, bl, _ := img.At(0, 0).RGBA()
	if r>>8 != 0x34 || g>>8 != 0x98 || bl>>8 != 0xdb {
		t.Fatalf("expected blue background, got %x %x %x", r>>8, g>>8, bl>>8)
	}
}

func TestServerRoutesAndAuth(t *testing.T) {
	h := NewHub(logx.Nop())
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, h, logx.Nop())
	s.MountAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "api:"+r.URL.Path)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server not ready")
	}
	base := "http://" + s.Addr()

	resp, err := http.Get(base + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(base + "/api/history")
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/history", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "api:/api/history" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:3456": true,
		"localhost:3456": true,
		"[::1]:3456":     true,
		":3456":          false,
		"0.0.0.0:3456":   false,
		"bogus":          false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: expected %v, got %v", addr, want, got)
		}
	}
}

func TestGuardChecksToken(t *testing.T) {
	g := newGuard(ServerConfig{Token: "s3cret"}, "0.0.0.0:3456")
	if !g.open {
		t.Fatalf("expected token to open the guard")
	}
	h := g.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	cases := []struct {
		target string
		header string
		want   int
	}{
		{"/api/status", "", http.StatusUnauthorized},
		{"/api/status?token=nope", "", http.StatusUnauthorized},
		{"/api/status?token=s3cret", "", http.StatusOK},
		{"/api/status", "Bearer s3cret", http.StatusOK},
		{"/api/status", "Bearer other", http.StatusUnauthorized},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.target, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("%s %q: expected %d, got %d", c.target, c.header, c.want, rec.Code)
		}
	}

	if newGuard(ServerConfig{}, "0.0.0.0:3456").open {
		t.Fatalf("expected public addr without token to stay closed")
	}
	if !newGuard(ServerConfig{AllowInsecure: true}, "0.0.0.0:3456").open {
		t.Fatalf("expected allow_insecure to open the guard")
	}
}

func TestPprofPrefix(t *testing.T) {
	for in, want := range map[string]string{"": "/debug/pprof/", "prof": "/prof/", "/x/y/": "/x/y/"} {
		if got := pprofPrefix(in); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}
