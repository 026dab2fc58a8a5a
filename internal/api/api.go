// Package api is the HTTP control surface mounted under /api/ on the overlay
// server. Every request works on the config snapshot current at arrival.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"irlshots/internal/capture"
	"irlshots/internal/config"
	"irlshots/internal/pipeline"
	"irlshots/internal/storage"
	logx "irlshots/pkg/logx"
)

const maxPreviewSide = 4096

// Controller is the part of the pipeline the API drives.
type Controller interface {
	ManualCapture(ctx context.Context, s config.Snapshot) pipeline.Report
	TestAnimation(ctx context.Context, s config.Snapshot) (int, error)
	ListSources(ctx context.Context, s config.Snapshot) (capture.Sources, error)
	Preview(ctx context.Context, s config.Snapshot, width, height int) (string, error)
	History(ctx context.Context, limit int) ([]storage.CaptureRecord, error)
}

// StatusFunc reports runtime state for GET /api/status.
type StatusFunc func() any

type Handler struct {
	ctl    Controller
	snap   func() config.Snapshot
	status StatusFunc
	log    logx.Logger
	mux    *http.ServeMux
}

func New(ctl Controller, snap func() config.Snapshot, status StatusFunc, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{ctl: ctl, snap: snap, status: status, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/capture", h.capture)
	h.mux.HandleFunc("POST /api/test-animation", h.testAnimation)
	h.mux.HandleFunc("GET /api/sources", h.sources)
	h.mux.HandleFunc("GET /api/preview", h.preview)
	h.mux.HandleFunc("GET /api/history", h.history)
	h.mux.HandleFunc("GET /api/status", h.statusz)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type reply struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	rep := h.ctl.ManualCapture(r.Context(), h.snap())
	status := http.StatusOK
	if !rep.OK {
		status = statusForKind(capture.Kind(rep.ErrorKind))
	}
	writeJSON(w, status, struct {
		Success bool `json:"success"`
		pipeline.Report
	}{Success: rep.OK, Report: rep})
}

func (h *Handler) testAnimation(w http.ResponseWriter, r *http.Request) {
	n, err := h.ctl.TestAnimation(r.Context(), h.snap())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		reply
		Listeners int `json:"listeners"`
	}{reply: reply{Success: true}, Listeners: n})
}

func (h *Handler) sources(w http.ResponseWriter, r *http.Request) {
	src, err := h.ctl.ListSources(r.Context(), h.snap())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		reply
		capture.Sources
	}{reply: reply{Success: true}, Sources: src})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	width, err := intParam(r, "width", 0, maxPreviewSide)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply{Error: err.Error()})
		return
	}
	height, err := intParam(r, "height", 0, maxPreviewSide)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply{Error: err.Error()})
		return
	}
	uri, err := h.ctl.Preview(r.Context(), h.snap(), width, height)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		reply
		ImageData string `json:"imageData"`
	}{reply: reply{Success: true}, ImageData: uri})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0, storage.MaxRecentLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply{Error: err.Error()})
		return
	}
	recs, err := h.ctl.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []storage.CaptureRecord{}
	}
	writeJSON(w, http.StatusOK, struct {
		reply
		Captures []storage.CaptureRecord `json:"captures"`
	}{reply: reply{Success: true}, Captures: recs})
}

func (h *Handler) statusz(w http.ResponseWriter, r *http.Request) {
	var st any
	if h.status != nil {
		st = h.status()
	}
	writeJSON(w, http.StatusOK, struct {
		reply
		Status any       `json:"status,omitempty"`
		Time   time.Time `json:"time"`
	}{reply: reply{Success: true}, Status: st, Time: time.Now()})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	rp := reply{Error: err.Error()}
	var ce *capture.Error
	switch {
	case errors.As(err, &ce):
		rp.ErrorKind = string(ce.Kind)
		status = statusForKind(ce.Kind)
	case errors.Is(err, pipeline.ErrOverlayDisabled):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrDisabled):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	h.log.Warn("api request failed",
		logx.String("method", r.Method),
		logx.String("path", r.URL.Path),
		logx.Int("status", status),
		logx.Err(err),
	)
	writeJSON(w, status, rp)
}

func statusForKind(k capture.Kind) int {
	switch k {
	case capture.KindConnection, capture.KindCaptureRequest:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func intParam(r *http.Request, name string, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, errors.New(name + ": expected an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
