package logx

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dailyLayout = "2006-01-02"

// dailyFile appends to <dir>/app-YYYY-MM-DD.log and reopens on date change.
type dailyFile struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	day  string
	file *os.File
}

func openDailyFile(dir string, now func() time.Time) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	d := &dailyFile{dir: dir, now: now}
	if err := d.rotate(now().Format(dailyLayout)); err != nil {
		return nil, err
	}
	return d, nil
}

// DailyLogPath returns the log file path for t under dir.
func DailyLogPath(dir string, t time.Time) string {
	return filepath.Join(dir, "app-"+t.Format(dailyLayout)+".log")
}

func (d *dailyFile) rotate(day string) error {
	t, _ := time.ParseInLocation(dailyLayout, day, time.Local)
	f, err := os.OpenFile(DailyLogPath(d.dir, t), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if d.file != nil {
		_ = d.file.Close()
	}
	d.file = f
	d.day = day
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if day := d.now().Format(dailyLayout); day != d.day {
		// Keep writing to the old file if the new one cannot be opened.
		_ = d.rotate(day)
	}
	if d.file == nil {
		return len(p), nil
	}
	return d.file.Write(p)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
