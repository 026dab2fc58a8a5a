package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"irlshots/internal/fanout"
	"irlshots/internal/overlay"
)

const (
	DefaultBotName  = "IRLshots Bot"
	DefaultTemplate = "New screenshot taken at {time}"
	DefaultTimeout  = 15 * time.Second
)

var ErrNoURL = errors.New("webhook: url is empty")

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("webhook: unexpected status %d: %s", e.Code, e.Body)
}

// Client posts images to Discord-compatible webhooks. It is shared by all
// pipeline runs; the limiter spaces out uploads.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(timeout time.Duration, ratePerSec float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), max(1, int(ratePerSec))),
	}
}

// Message is one upload.
type Message struct {
	URL      string
	Username string
	Content  string
	FileName string
	Image    []byte
}

type payloadJSON struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// Send uploads msg as multipart/form-data with payload_json and file parts.
func (c *Client) Send(ctx context.Context, msg Message) error {
	url := strings.TrimSpace(msg.URL)
	if url == "" {
		return ErrNoURL
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, contentType, err := encode(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func encode(msg Message) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	pj, err := json.Marshal(payloadJSON{Username: msg.Username, Content: msg.Content})
	if err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("payload_json", string(pj)); err != nil {
		return nil, "", err
	}

	name := msg.FileName
	if name == "" {
		name = "screenshot.png"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", "image/png")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(msg.Image); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// RenderContent substitutes {time} in template; an empty template uses the
// default message.
func RenderContent(template string, at time.Time) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	return strings.ReplaceAll(template, "{time}", overlay.DisplayTime(at))
}

// Sink adapts Client to fanout for one config snapshot.
type Sink struct {
	Client   *Client
	URL      string
	BotName  string
	Template string
	Now      func() time.Time
}

func (s Sink) Name() string { return "webhook" }

func (s Sink) Deliver(ctx context.Context, p fanout.Payload) error {
	if s.Client == nil {
		return errors.New("webhook client not configured")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	bot := strings.TrimSpace(s.BotName)
	if bot == "" {
		bot = DefaultBotName
	}
	name := ""
	if p.ImagePath != "" {
		name = filepath.Base(p.ImagePath)
	}
	return s.Client.Send(ctx, Message{
		URL:      s.URL,
		Username: bot,
		Content:  RenderContent(s.Template, now()),
		FileName: name,
		Image:    p.Image,
	})
}
