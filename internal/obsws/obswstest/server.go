// Package obswstest provides an in-process obs-websocket v5 server for tests.
package obswstest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"irlshots/internal/obsws"
)

const (
	testSalt      = "c2FsdA=="
	testChallenge = "Y2hhbGxlbmdl"
)

// Request is a request received by the server.
type Request struct {
	Type string
	Data map[string]any
}

type failure struct {
	code    int
	comment string
}

// Server is a fake obs-websocket host.
//
// SaveSourceScreenshot writes a small PNG to imageFilePath unless disabled,
// GetSourceScreenshot returns the same PNG as a data URI, and the scene/input
// requests answer from the configured scene map.
type Server struct {
	*httptest.Server

	password  string
	scenes    map[string][]obsws.SceneItem
	order     []string
	inputs    []obsws.Input
	failures  map[string]failure
	skipWrite bool

	mu       sync.Mutex
	requests []Request
	active   atomic.Int32
	total    atomic.Int32
}

type Option func(*Server)

// WithPassword requires challenge authentication.
func WithPassword(pw string) Option { return func(s *Server) { s.password = pw } }

// WithScene adds a scene and its items. Scenes are listed in insertion order.
func WithScene(name string, items ...obsws.SceneItem) Option {
	return func(s *Server) {
		if _, ok := s.scenes[name]; !ok {
			s.order = append(s.order, name)
		}
		s.scenes[name] = items
	}
}

func WithInputs(inputs ...obsws.Input) Option {
	return func(s *Server) { s.inputs = append(s.inputs, inputs...) }
}

// WithFailure makes requestType answer with a failed requestStatus.
func WithFailure(requestType string, code int, comment string) Option {
	return func(s *Server) { s.failures[requestType] = failure{code: code, comment: comment} }
}

// WithoutFileWrite makes SaveSourceScreenshot succeed without writing a file.
func WithoutFileWrite() Option { return func(s *Server) { s.skipWrite = true } }

func NewServer(opts ...Option) *Server {
	s := &Server{
		scenes:   map[string][]obsws.SceneItem{},
		failures: map[string]failure{},
	}
	for _, o := range opts {
		o(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Config returns client settings pointing at this server.
func (s *Server) Config() obsws.Config {
	u, _ := url.Parse(s.URL)
	host, port, _ := net.SplitHostPort(u.Host)
	p, _ := strconv.Atoi(port)
	return obsws.Config{Host: host, Port: p, Password: s.password}
}

// Requests returns a copy of the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Active reports currently open sessions.
func (s *Server) Active() int { return int(s.active.Load()) }

// Sessions reports all sessions accepted since start.
func (s *Server) Sessions() int { return int(s.total.Load()) }

var upgrader = websocket.Upgrader{
	Subprotocols: []string{obsws.Subprotocol},
	CheckOrigin:  func(*http.Request) bool { return true },
}

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func write(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(frame{Op: op, D: raw})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.active.Add(1)
	s.total.Add(1)
	defer func() {
		_ = conn.Close()
		s.active.Add(-1)
	}()

	h := map[string]any{"obsWebSocketVersion": "5.5.0", "rpcVersion": 1}
	if s.password != "" {
		h["authentication"] = map[string]string{"challenge": testChallenge, "salt": testSalt}
	}
	if err := write(conn, obsws.OpHello, h); err != nil {
		return
	}

	var f frame
	if err := conn.ReadJSON(&f); err != nil || f.Op != obsws.OpIdentify {
		return
	}
	var id struct {
		Authentication string `json:"authentication"`
	}
	_ = json.Unmarshal(f.D, &id)
	if s.password != "" && id.Authentication != obsws.AuthString(s.password, testSalt, testChallenge) {
		msg := websocket.FormatCloseMessage(4009, "Authentication failed.")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}
	if err := write(conn, obsws.OpIdentified, map[string]int{"negotiatedRpcVersion": 1}); err != nil {
		return
	}

	for {
		var rf frame
		if err := conn.ReadJSON(&rf); err != nil {
			return
		}
		if rf.Op != obsws.OpRequest {
			continue
		}
		var req struct {
			RequestType string         `json:"requestType"`
			RequestID   string         `json:"requestId"`
			RequestData map[string]any `json:"requestData"`
		}
		if err := json.Unmarshal(rf.D, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{Type: req.RequestType, Data: req.RequestData})
		s.mu.Unlock()

		data, fail := s.handle(req.RequestType, req.RequestData)
		status := map[string]any{"result": fail == nil, "code": 100}
		if fail != nil {
			status["code"] = fail.code
			status["comment"] = fail.comment
		}
		resp := map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": status,
		}
		if data != nil {
			resp["responseData"] = data
		}
		if err := write(conn, obsws.OpRequestResponse, resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(typ string, data map[string]any) (any, *failure) {
	if f, ok := s.failures[typ]; ok {
		return nil, &f
	}
	switch typ {
	case "SaveSourceScreenshot":
		if s.skipWrite {
			return nil, nil
		}
		path, _ := data["imageFilePath"].(string)
		if err := os.WriteFile(path, PNG(), 0o644); err != nil {
			return nil, &failure{code: 702, comment: err.Error()}
		}
		return nil, nil
	case "GetSourceScreenshot":
		return map[string]string{"imageData": "data:image/png;base64," + base64.StdEncoding.EncodeToString(PNG())}, nil
	case "GetSceneList":
		scenes := make([]obsws.Scene, 0, len(s.order))
		for i, name := range s.order {
			scenes = append(scenes, obsws.Scene{SceneName: name, SceneIndex: i})
		}
		cur := ""
		if len(s.order) > 0 {
			cur = s.order[0]
		}
		return obsws.SceneList{CurrentProgramSceneName: cur, Scenes: scenes}, nil
	case "GetInputList":
		return map[string]any{"inputs": s.inputs}, nil
	case "GetSceneItemList":
		name, _ := data["sceneName"].(string)
		items, ok := s.scenes[name]
		if !ok {
			return nil, &failure{code: 600, comment: "No source was found by the name of `" + name + "`."}
		}
		return map[string]any{"sceneItems": items}, nil
	}
	return nil, &failure{code: 204, comment: "Your request type is not valid."}
}

// PNG returns a 2x2 PNG image.
func PNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var b bytes.Buffer
	_ = png.Encode(&b, img)
	return b.Bytes()
}
