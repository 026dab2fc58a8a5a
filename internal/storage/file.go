package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "irlshots/pkg/logx"
)

const (
	// fileTail is how many records stay in memory for Recent.
	fileTail = MaxRecentLimit
	// compactAfter rewrites the journal down to the tail once it holds this
	// many lines.
	compactAfter = 5000
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.captures.jsonl (append-only JSON Lines, compacted to the tail)
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	path  string
	f     *os.File
	lines int
	tail  []CaptureRecord // oldest first
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	jpath := filepath.Join(dir, base) + ".captures.jsonl"

	s := &fileStore{log: log, path: jpath}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("capture history replay failed", logx.String("path", jpath), logx.Err(err))
	}

	f, err := os.OpenFile(jpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r CaptureRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		s.lines++
		s.push(r)
	}
	return sc.Err()
}

func (s *fileStore) push(r CaptureRecord) {
	s.tail = append(s.tail, r)
	if len(s.tail) > fileTail {
		s.tail = append(s.tail[:0], s.tail[len(s.tail)-fileTail:]...)
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendCapture(ctx context.Context, r CaptureRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("capture history closed")
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.push(r)
	if s.lines >= compactAfter {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("capture history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]CaptureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, len(s.tail))
	out := make([]CaptureRecord, 0, n)
	for i := len(s.tail) - 1; i >= len(s.tail)-n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

// compactLocked rewrites the journal to hold only the in-memory tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range s.tail {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		s.log.Debug("capture history close before compact", logx.Err(err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return s.reopen(err)
	}
	s.lines = len(s.tail)
	return s.reopen(nil)
}

func (s *fileStore) reopen(prev error) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return errors.Join(prev, err)
	}
	s.f = f
	return prev
}
