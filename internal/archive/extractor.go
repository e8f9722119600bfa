// Package archive handles uploaded container files: extracting them into a
// scratch area, discovering sales spreadsheets among their members, and
// archiving original files after import.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// salesMarker is the case-insensitive substring an extracted member must
// carry in its name to count as a sales spreadsheet.
const salesMarker = "sale"

// Extractor collects the sales spreadsheet candidates from a set of
// uploaded files, decompressing container files into a scratch directory.
type Extractor struct {
	scratchDir string
	logger     *slog.Logger
}

// NewExtractor creates an extractor rooted at the given scratch directory.
func NewExtractor(scratchDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{scratchDir: scratchDir, logger: logger}
}

// Collect returns the sales spreadsheet candidates among the inputs. Plain
// spreadsheets pass through unchanged; containers are extracted and walked
// for members with the sales marker. Extraction failure for one input is
// logged and that input skipped; it never aborts the set.
func (e *Extractor) Collect(paths []string) []string {
	var candidates []string

	for _, path := range paths {
		switch {
		case isContainer(path):
			members, err := e.extract(path)
			if err != nil {
				e.logger.Error("extraction failed, skipping input",
					slog.String("file", filepath.Base(path)),
					slog.String("error", err.Error()))
				continue
			}
			candidates = append(candidates, members...)
		case isSpreadsheet(path):
			candidates = append(candidates, path)
		default:
			e.logger.Warn("ignoring unsupported input",
				slog.String("file", filepath.Base(path)))
		}
	}

	return candidates
}

// extract decompresses one container into a fresh scratch subdirectory and
// returns the sales spreadsheet members found inside, recursively.
func (e *Extractor) extract(path string) ([]string, error) {
	dest := filepath.Join(e.scratchDir, uuid.New().String())
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	if err := extractZip(path, dest); err != nil {
		return nil, err
	}

	var members []string
	err := filepath.WalkDir(dest, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if isSpreadsheet(name) && strings.Contains(name, salesMarker) {
			members = append(members, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk extracted files: %w", err)
	}
	return members, nil
}

// Cleanup removes the scratch directory. Failures are logged only, never
// escalated.
func (e *Extractor) Cleanup() {
	if err := os.RemoveAll(e.scratchDir); err != nil {
		e.logger.Warn("failed to remove scratch directory",
			slog.String("dir", e.scratchDir),
			slog.String("error", err.Error()))
	}
}

// extractZip unpacks a zip archive into dest, refusing member paths that
// escape it.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", filepath.Base(src), err)
	}
	defer r.Close()

	for _, member := range r.File {
		target := filepath.Join(dest, filepath.Clean(member.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive member %q escapes extraction directory", member.Name)
		}

		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", target, err)
		}
		if err := extractMember(member, target); err != nil {
			return err
		}
	}
	return nil
}

func extractMember(member *zip.File, target string) error {
	in, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive member %s: %w", member.Name, err)
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}
	return nil
}

// isContainer reports whether the path looks like a supported container
// format. Only zip is supported; a rar codec would slot in here.
func isContainer(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// isSpreadsheet reports whether the path has a spreadsheet extension.
func isSpreadsheet(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xls"
}
