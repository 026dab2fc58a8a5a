package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"irlshots/internal/fanout"
)

type received struct {
	payload  payloadJSON
	filename string
	ctype    string
	image    []byte
}

func receiver(t *testing.T, status int) (*httptest.Server, <-chan received) {
	t.Helper()
	ch := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var got received
		_ = json.Unmarshal([]byte(r.FormValue("payload_json")), &got.payload)
		f, hdr, err := r.FormFile("file")
		if err == nil {
			got.filename = hdr.Filename
			got.ctype = hdr.Header.Get("Content-Type")
			got.image, _ = io.ReadAll(f)
			f.Close()
		}
		ch <- got
		w.WriteHeader(status)
	}))
	return srv, ch
}

func TestSinkDeliversMultipart(t *testing.T) {
	srv, ch := receiver(t, http.StatusOK)
	defer srv.Close()

	at := time.Date(2024, 5, 1, 18, 4, 5, 0, time.Local)
	s := Sink{
		Client:   NewClient(time.Second, 10),
		URL:      srv.URL,
		Template: "Snap at {time}!",
		Now:      func() time.Time { return at },
	}
	err := s.Deliver(context.Background(), fanout.Payload{Image: []byte{0x89, 'P', 'N', 'G'}, ImagePath: "/tmp/shots/polaroid_x.png"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := <-ch
	if got.payload.Username != DefaultBotName {
		t.Fatalf("expected default bot name, got %q", got.payload.Username)
	}
	if got.payload.Content != "Snap at 5/1/2024, 6:04:05 PM!" {
		t.Fatalf("unexpected content %q", got.payload.Content)
	}
	if got.filename != "polaroid_x.png" || got.ctype != "image/png" {
		t.Fatalf("unexpected file part %q %q", got.filename, got.ctype)
	}
	if string(got.image) != "\x89PNG" {
		t.Fatalf("unexpected image bytes %q", got.image)
	}
}

func TestSendNon2xxIsStatusError(t *testing.T) {
	srv, _ := receiver(t, http.StatusTooManyRequests)
	defer srv.Close()

	c := NewClient(time.Second, 10)
	err := c.Send(context.Background(), Message{URL: srv.URL, Image: []byte("x")})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected StatusError 429, got %v", err)
	}
}

func TestSendInvalidURL(t *testing.T) {
	c := NewClient(time.Second, 10)
	if err := c.Send(context.Background(), Message{URL: "://not a url"}); err == nil {
		t.Fatalf("expected error for invalid url")
	}
	if err := c.Send(context.Background(), Message{}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
}

func TestRenderContentDefault(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	if got := RenderContent("", at); got != "New screenshot taken at 1/2/2024, 3:04:05 AM" {
		t.Fatalf("unexpected default content %q", got)
	}
}
