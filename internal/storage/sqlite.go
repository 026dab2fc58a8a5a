package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "irlshots/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// keepRows bounds the captures table; older rows are pruned periodically.
const keepRows = 10000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendCapture(ctx context.Context, r CaptureRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	sinks, err := json.Marshal(r.Sinks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO captures(id, at, origin, transport, channel, requester, source, ok, error_kind, error, image_path, bytes, took_ms, sinks)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.At.UTC().Format(time.RFC3339Nano), r.Origin, nullStr(r.Transport), nullStr(r.Channel), nullStr(r.Requester),
		r.Source, boolInt(r.OK), nullStr(r.ErrorKind), nullStr(r.Error), nullStr(r.ImagePath), r.Bytes, r.TookMS, string(sinks),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("capture history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]CaptureRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, origin, transport, channel, requester, source, ok, error_kind, error, image_path, bytes, took_ms, sinks
		 FROM captures ORDER BY at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaptureRecord
	for rows.Next() {
		var (
			r                                                   CaptureRecord
			at, sinks                                           string
			ok                                                  int
			transport, channel, requester, kind, msg, imagePath sql.NullString
		)
		if err := rows.Scan(&r.ID, &at, &r.Origin, &transport, &channel, &requester, &r.Source, &ok,
			&kind, &msg, &imagePath, &r.Bytes, &r.TookMS, &sinks); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.OK = ok != 0
		r.Transport, r.Channel, r.Requester = transport.String, channel.String, requester.String
		r.ErrorKind, r.Error, r.ImagePath = kind.String, msg.String, imagePath.String
		if sinks != "" && sinks != "null" {
			_ = json.Unmarshal([]byte(sinks), &r.Sinks)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM captures WHERE rowid NOT IN (SELECT rowid FROM captures ORDER BY at DESC LIMIT ?)`, keepRows)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
