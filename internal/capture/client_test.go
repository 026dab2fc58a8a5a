package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"irlshots/internal/obsws"
	"irlshots/internal/obsws/obswstest"
	logx "irlshots/pkg/logx"
)

func settingsFor(srv *obswstest.Server, dir string) Settings {
	return Settings{
		OBS:             srv.Config(),
		Timeout:         5 * time.Second,
		Source:          "Camera",
		SaveScreenshots: true,
		OutputFolder:    dir,
		DataDir:         dir,
	}
}

func TestCaptureSuccess(t *testing.T) {
	srv := obswstest.NewServer()
	defer srv.Close()
	dir := t.TempDir()

	c := New(logx.Nop())
	res := c.Capture(context.Background(), "", settingsFor(srv, dir))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if filepath.Dir(res.ImagePath) != dir {
		t.Fatalf("expected image in %s, got %s", dir, res.ImagePath)
	}
	if !bytes.Equal(res.Image, obswstest.PNG()) {
		t.Fatalf("expected image bytes to match written file")
	}
	if c.OpenSessions() != 0 {
		t.Fatalf("expected 0 open sessions, got %d", c.OpenSessions())
	}

	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Type != "SaveSourceScreenshot" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
	if w, _ := reqs[0].Data["imageWidth"].(float64); w != DefaultWidth {
		t.Fatalf("expected default width %d, got %v", DefaultWidth, reqs[0].Data["imageWidth"])
	}
	if h, _ := reqs[0].Data["imageHeight"].(float64); h != DefaultHeight {
		t.Fatalf("expected default height %d, got %v", DefaultHeight, reqs[0].Data["imageHeight"])
	}
	if f, _ := reqs[0].Data["imageFormat"].(string); f != "png" {
		t.Fatalf("expected png format, got %q", f)
	}
}

func TestCaptureUnreachableHostTwice(t *testing.T) {
	c := New(logx.Nop())
	s := Settings{
		OBS:     obsws.Config{Host: "127.0.0.1", Port: 1},
		Timeout: 2 * time.Second,
		Source:  "Camera",
		DataDir: t.TempDir(),
	}
	for i := 0; i < 2; i++ {
		res := c.Capture(context.Background(), "", s)
		if res.OK() {
			t.Fatalf("attempt %d: expected failure", i)
		}
		if !errors.Is(res.Err, ErrConnection) {
			t.Fatalf("attempt %d: expected connection error, got %v", i, res.Err)
		}
		if c.OpenSessions() != 0 {
			t.Fatalf("attempt %d: expected 0 open sessions, got %d", i, c.OpenSessions())
		}
	}
}

func TestCaptureRequestFailure(t *testing.T) {
	srv := obswstest.NewServer(obswstest.WithFailure("SaveSourceScreenshot", 600, "No source was found"))
	defer srv.Close()

	c := New(logx.Nop())
	res := c.Capture(context.Background(), "", settingsFor(srv, t.TempDir()))
	if !errors.Is(res.Err, ErrCaptureRequest) {
		t.Fatalf("expected capture request error, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "No source was found") {
		t.Fatalf("expected host comment in error, got %q", res.Err.Error())
	}
	if c.OpenSessions() != 0 {
		t.Fatalf("expected 0 open sessions, got %d", c.OpenSessions())
	}
}

func TestCaptureMissingSourceSkipsDial(t *testing.T) {
	dialed := false
	c := New(logx.Nop(), WithDialer(func(ctx context.Context, cfg obsws.Config) (Session, error) {
		dialed = true
		return nil, errors.New("unexpected")
	}))
	res := c.Capture(context.Background(), "", Settings{DataDir: t.TempDir()})
	if !errors.Is(res.Err, ErrCaptureRequest) {
		t.Fatalf("expected capture request error, got %v", res.Err)
	}
	if dialed {
		t.Fatalf("expected no dial without a source")
	}
}

func TestCapturePersistenceFailure(t *testing.T) {
	srv := obswstest.NewServer(obswstest.WithoutFileWrite())
	defer srv.Close()

	c := New(logx.Nop())
	res := c.Capture(context.Background(), "", settingsFor(srv, t.TempDir()))
	if !errors.Is(res.Err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", res.Err)
	}
}

func TestCaptureSerializedWaitsForSlot(t *testing.T) {
	c := New(logx.Nop())
	c.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s := Settings{OBS: obsws.Config{Host: "127.0.0.1", Port: 1}, Source: "Camera", DataDir: t.TempDir(), Serialize: true}
	res := c.Capture(ctx, "", s)
	if !errors.Is(res.Err, ErrConnection) || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected slot wait to time out, got %v", res.Err)
	}
}

func TestPreviewOmitsSizeForNative(t *testing.T) {
	srv := obswstest.NewServer()
	defer srv.Close()

	c := New(logx.Nop())
	uri, err := c.Preview(context.Background(), settingsFor(srv, t.TempDir()), 0, 0)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("unexpected data uri %q", uri)
	}
	reqs := srv.Requests()
	if _, ok := reqs[0].Data["imageWidth"]; ok {
		t.Fatalf("expected imageWidth omitted for native size")
	}
}

func TestListSources(t *testing.T) {
	srv := obswstest.NewServer(
		obswstest.WithScene("Main",
			obsws.SceneItem{SceneItemID: 1, SourceName: "Camera", InputKind: "dshow_input"},
			obsws.SceneItem{SceneItemID: 2, SourceName: "Alerts", InputKind: "browser_source"},
		),
		obswstest.WithScene("BRB", obsws.SceneItem{SceneItemID: 1, SourceName: "Camera"}),
		obswstest.WithInputs(obsws.Input{InputName: "Mic", InputKind: "wasapi_input_capture"}),
	)
	defer srv.Close()

	c := New(logx.Nop())
	got, err := c.ListSources(context.Background(), settingsFor(srv, t.TempDir()))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got.CurrentScene != "Main" || len(got.Scenes) != 2 {
		t.Fatalf("unexpected scenes %+v", got)
	}
	var names []string
	for _, s := range got.Sources {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "Alerts,Camera,Mic" {
		t.Fatalf("unexpected sources %v", names)
	}
}

func TestResolveOutputDir(t *testing.T) {
	data := filepath.Join(os.TempDir(), "irlshots-data")
	abs := filepath.Join(os.TempDir(), "shots")

	cases := []struct {
		name   string
		save   bool
		folder string
		want   string
	}{
		{"disabled", false, abs, filepath.Join(data, "screenshots")},
		{"empty", true, "", filepath.Join(data, "screenshots")},
		{"placeholder", true, PlaceholderFolder, filepath.Join(data, "screenshots")},
		{"absolute", true, abs, abs},
		{"relative", true, `out\today`, filepath.Join(data, "out", "today")},
	}
	for _, tc := range cases {
		if got := ResolveOutputDir(tc.save, tc.folder, data); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 18, 4, 5, 123_000_000, time.UTC)
	if got := FileName(ts, "abc123"); got != "polaroid_2024-05-01T18-04-05-123Z_abc123.png" {
		t.Fatalf("unexpected file name %q", got)
	}
}

func TestConcurrentCapturesInSameMillisecondGetOwnFiles(t *testing.T) {
	srv := obswstest.NewServer()
	defer srv.Close()
	dir := t.TempDir()

	frozen := time.Date(2024, 5, 1, 18, 4, 5, 0, time.UTC)
	c := New(logx.Nop(), WithClock(func() time.Time { return frozen }))

	const n = 3
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Capture(context.Background(), "", settingsFor(srv, dir))
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, res := range results {
		if !res.OK() {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if res.ID == "" || !strings.Contains(filepath.Base(res.ImagePath), res.ID) {
			t.Fatalf("expected file name to carry id %q, got %s", res.ID, res.ImagePath)
		}
		if seen[res.ImagePath] {
			t.Fatalf("expected distinct paths, %s written twice", res.ImagePath)
		}
		seen[res.ImagePath] = true
		if _, err := os.Stat(res.ImagePath); err != nil {
			t.Fatalf("expected %s on disk: %v", res.ImagePath, err)
		}
	}
}

func TestCaptureUsesGivenID(t *testing.T) {
	srv := obswstest.NewServer()
	defer srv.Close()

	res := New(logx.Nop()).Capture(context.Background(), "cap42", settingsFor(srv, t.TempDir()))
	if res.ID != "cap42" || !strings.HasSuffix(res.ImagePath, "_cap42.png") {
		t.Fatalf("expected id cap42 in result and path, got %q %s", res.ID, res.ImagePath)
	}
}
