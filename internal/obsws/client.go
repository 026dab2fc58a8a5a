package obsws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subprotocol is the JSON-encoded obs-websocket v5 subprotocol.
const Subprotocol = "obswebsocket.json"

// RPCVersion is the protocol revision negotiated during Identify.
const RPCVersion = 1

// Opcodes used by this client.
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpEvent           = 5
	OpRequest         = 6
	OpRequestResponse = 7
)

var (
	ErrDial      = errors.New("obsws: dial failed")
	ErrHandshake = errors.New("obsws: handshake failed")
	ErrClosed    = errors.New("obsws: connection closed")
)

// RequestError is a non-success requestStatus returned by the host.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obsws: %s failed (code %d): %s", e.RequestType, e.Code, e.Comment)
	}
	return fmt.Sprintf("obsws: %s failed (code %d)", e.RequestType, e.Code)
}

// Config is the address and credentials of an obs-websocket server.
type Config struct {
	Host     string
	Port     int
	Password string
}

func (c Config) URL() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port <= 0 {
		port = 4455
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestResponse struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// Client is one identified obs-websocket session.
// Calls are serialized; the session carries no event subscriptions.
type Client struct {
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error

	ServerVersion string
}

// Dial connects to cfg, performs the Hello/Identify exchange and returns an
// identified session. The context bounds the whole handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	d := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := d.DialContext(ctx, cfg.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, cfg.URL(), err)
	}
	c := &Client{conn: conn}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
		_ = conn.SetWriteDeadline(dl)
	}

	if err := c.identify(cfg.Password); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return c, nil
}

func (c *Client) identify(password string) error {
	var f frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.Op != OpHello {
		return fmt.Errorf("expected hello (op 0), got op %d", f.Op)
	}
	var h hello
	if err := json.Unmarshal(f.D, &h); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	c.ServerVersion = h.ObsWebSocketVersion

	id := identify{RPCVersion: RPCVersion}
	if h.Authentication != nil {
		id.Authentication = AuthString(password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := c.writeFrame(OpIdentify, id); err != nil {
		return fmt.Errorf("write identify: %w", err)
	}

	for {
		var r frame
		if err := c.conn.ReadJSON(&r); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == 4009 {
				return errors.New("authentication failed")
			}
			return fmt.Errorf("read identified: %w", err)
		}
		if r.Op == OpIdentified {
			return nil
		}
	}
}

// AuthString computes the obs-websocket v5 authentication response:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func AuthString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func (c *Client) writeFrame(op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.conn.WriteJSON(frame{Op: op, D: raw})
}

// Call issues one request and waits for its response.
// out may be nil when the response data is not needed.
func (c *Client) Call(ctx context.Context, requestType string, data any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
		_ = c.conn.SetWriteDeadline(dl)
		defer func() {
			_ = c.conn.SetReadDeadline(time.Time{})
			_ = c.conn.SetWriteDeadline(time.Time{})
		}()
	}

	rid := uuid.NewString()
	if err := c.writeFrame(OpRequest, request{RequestType: requestType, RequestID: rid, RequestData: data}); err != nil {
		return c.ioErr(ctx, err)
	}

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return c.ioErr(ctx, err)
		}
		if f.Op != OpRequestResponse {
			continue
		}
		var resp requestResponse
		if err := json.Unmarshal(f.D, &resp); err != nil {
			return fmt.Errorf("obsws: decode response: %w", err)
		}
		if resp.RequestID != rid {
			continue
		}
		if !resp.RequestStatus.Result {
			return &RequestError{RequestType: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("obsws: decode %s data: %w", requestType, err)
			}
		}
		return nil
	}
}

func (c *Client) ioErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, ctxErr)
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// Close sends a normal close frame and releases the connection. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
