package archive

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qworker/internal/metadata"
)

func TestArchiver_StoreNewFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "L001-100044638_SALE_01_2024.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0644))

	a := NewArchiver(filepath.Join(dir, "Archive"), slog.Default())
	err := a.Store("L001-100044638", metadata.Period{Month: 1, Year: 2024}, src)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "Archive", "L001-100044638", "2024",
		"L001-100044638_SALE_01_2024.xlsx"))
}

func TestArchiver_SameContentSkipped(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "L001-100044638_SALE_01_2024.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0644))

	a := NewArchiver(filepath.Join(dir, "Archive"), slog.Default())
	period := metadata.Period{Month: 1, Year: 2024}
	require.NoError(t, a.Store("L001-100044638", period, src))
	require.NoError(t, a.Store("L001-100044638", period, src))

	entries, err := os.ReadDir(filepath.Join(dir, "Archive", "L001-100044638", "2024"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "identical re-archive must not create a version")
}

func TestArchiver_DifferingContentVersioned(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "L001-100044638_SALE_01_2024.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))

	a := NewArchiver(filepath.Join(dir, "Archive"), slog.Default())
	a.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }
	period := metadata.Period{Month: 1, Year: 2024}
	require.NoError(t, a.Store("L001-100044638", period, src))

	require.NoError(t, os.WriteFile(src, []byte("v2"), 0644))
	require.NoError(t, a.Store("L001-100044638", period, src))

	folder := filepath.Join(dir, "Archive", "L001-100044638", "2024")
	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.FileExists(t, filepath.Join(folder,
		"L001-100044638_SALE_01_2024_20240501_103000.xlsx"))
}

func TestArchiver_MissingSource(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(filepath.Join(dir, "Archive"), slog.Default())
	err := a.Store("T1", metadata.Period{Month: 1, Year: 2024},
		filepath.Join(dir, "missing.xlsx"))
	assert.Error(t, err)
}
