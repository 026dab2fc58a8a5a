package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a short random capture id. It falls back to a nanosecond
// timestamp if the random source fails.
func NewID() string {
	id, err := gonanoid.Generate(idAlphabet, 12)
	if err != nil {
		return time.Now().UTC().Format("20060102T150405.000000000")
	}
	return id
}

// PlaceholderFolder is the sample value shipped in example configs; it is
// treated as unset.
const PlaceholderFolder = "path/to/output/folder"

// ResolveOutputDir picks the directory screenshots are written to.
//
//   - save enabled and folder set (not the placeholder): that folder, with
//     relative paths resolved against dataDir
//   - otherwise: <dataDir>/screenshots
func ResolveOutputDir(save bool, folder, dataDir string) string {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = os.TempDir()
	}
	folder = strings.TrimSpace(folder)
	if save && folder != "" && folder != PlaceholderFolder {
		folder = filepath.FromSlash(strings.ReplaceAll(folder, `\`, "/"))
		if !filepath.IsAbs(folder) {
			folder = filepath.Join(dataDir, folder)
		}
		return filepath.Clean(folder)
	}
	return filepath.Join(dataDir, "screenshots")
}

// ensureDir creates dir, falling back to the system temp dir when that fails.
// The returned error is the original mkdir failure (nil when dir was usable).
func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir(), err
	}
	return dir, nil
}

// FileName returns the screenshot file name for capture id taken at t, e.g.
// polaroid_2024-05-01T18-04-05-123Z_k3v9x0a1b2c4.png. The id keeps captures
// started in the same millisecond apart.
func FileName(t time.Time, id string) string {
	t = t.UTC()
	return fmt.Sprintf("polaroid_%s-%03dZ_%s.png", t.Format("2006-01-02T15-04-05"), t.Nanosecond()/int(time.Millisecond), id)
}
