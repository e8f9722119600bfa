package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qworker/internal/metadata"
)

// Archiver copies imported source files into per-taxpayer, per-year archive
// folders. A same-named file whose content differs is kept alongside the
// existing one under a timestamped version name.
type Archiver struct {
	archiveDir string
	logger     *slog.Logger
	now        func() time.Time
}

// NewArchiver creates an archiver rooted at the given directory.
func NewArchiver(archiveDir string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{archiveDir: archiveDir, logger: logger, now: time.Now}
}

// Store archives one source file under <archive>/<tin>/<year>/. Best
// effort: callers log the returned error and continue the run.
func (a *Archiver) Store(tin string, period metadata.Period, path string) error {
	folder := filepath.Join(a.archiveDir, tin, fmt.Sprintf("%d", period.Year))
	if err := os.MkdirAll(folder, 0755); err != nil {
		return fmt.Errorf("failed to create archive folder: %w", err)
	}

	filename := filepath.Base(path)
	target := filepath.Join(folder, filename)

	if _, err := os.Stat(target); err == nil {
		same, err := sameContent(path, target)
		if err != nil {
			return fmt.Errorf("failed to compare with archived copy: %w", err)
		}
		if same {
			return nil
		}
		ext := filepath.Ext(filename)
		base := strings.TrimSuffix(filename, ext)
		target = filepath.Join(folder,
			fmt.Sprintf("%s_%s%s", base, a.now().Format("20060102_150405"), ext))
	}

	if err := copyFile(path, target); err != nil {
		return fmt.Errorf("failed to archive %s: %w", filename, err)
	}
	a.logger.Debug("archived source file",
		slog.String("tin", tin),
		slog.Int("year", period.Year),
		slog.String("file", filepath.Base(target)))
	return nil
}

// sameContent compares two files by SHA-256 digest.
func sameContent(a, b string) (bool, error) {
	ha, err := fileDigest(a)
	if err != nil {
		return false, err
	}
	hb, err := fileDigest(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
