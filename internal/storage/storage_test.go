package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "irlshots/pkg/logx"
)

func record(i int, at time.Time) CaptureRecord {
	return CaptureRecord{
		ID:     fmt.Sprintf("cap-%02d", i),
		At:     at,
		Origin: "chat",
		Source: "Camera",
		OK:     i%2 == 0,
		Sinks:  []SinkRecord{{Sink: "overlay", OK: true}, {Sink: "webhook", OK: false, Error: "boom"}},
	}
}

func exerciseStore(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := st.AppendCapture(ctx, record(i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].ID != "cap-04" || got[2].ID != "cap-02" {
		t.Fatalf("unexpected recent %+v", got)
	}
	if !got[0].OK || len(got[0].Sinks) != 2 || got[0].Sinks[1].Error != "boom" {
		t.Fatalf("record not round-tripped: %+v", got[0])
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: history survives restarts.
	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err = st.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 5 || got[0].ID != "cap-04" || !got[0].At.Equal(base.Add(4*time.Second)) {
		t.Fatalf("unexpected history after reopen %+v", got)
	}
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "history")})
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "history.db")})
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("expected disabled store, got %v %v", st, err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestFileStoreCompacts(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "history")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	fs := st.(*fileStore)
	now := time.Now()
	for i := 0; i < compactAfter+1; i++ {
		if err := st.AppendCapture(context.Background(), CaptureRecord{ID: fmt.Sprint(i), At: now}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if fs.lines > fileTail+1 {
		t.Fatalf("expected compaction, journal holds %d lines", fs.lines)
	}
	got, _ := st.Recent(context.Background(), 1)
	if len(got) != 1 || got[0].ID != fmt.Sprint(compactAfter) {
		t.Fatalf("unexpected newest record %+v", got)
	}
}
