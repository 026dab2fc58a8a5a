package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	maxAlertLen = 3500
	maxValueLen = 600
	maxStackLen = 900
)

// secretKeys are masked before a record leaves the process.
var secretKeys = map[string]bool{
	"password":    true,
	"token":       true,
	"oauth_token": true,
	"webhook_url": true,
}

// alertWriter is a zerolog sink that queues records for the chat sender.
// It never blocks logging; a full queue or an exhausted limiter drops.
type alertWriter struct{ svc *Service }

func (w alertWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w alertWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	st, sender := s.alert, s.sender
	s.mu.Unlock()

	if sender == nil || st.channel == "" || level < st.min || !st.limiter.Allow() {
		return len(p), nil
	}
	if text := formatAlert(p); text != "" {
		select {
		case s.queue <- alertItem{channel: st.channel, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatAlert renders one JSON record as
//
//	[WARN] message
//	- key=value
//
// with keys sorted and the stack last.
func formatAlert(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), maxAlertLen)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName, "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := "***"
		if !secretKeys[k] {
			v = clip(fmt.Sprint(m[k]), maxValueLen)
		}
		b.WriteString("\n- " + k + "=" + v)
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n- stack=\n" + clip(fmt.Sprint(st), maxStackLen))
	}
	return clip(b.String(), maxAlertLen)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
