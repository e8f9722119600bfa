package consolidate

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"qworker/internal/declaration"
)

func TestMasterWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w := NewMasterWriter(dir, slog.Default())

	rows := []declaration.Row{
		rowAt(2023, 1, 10, "INV-001"),
		rowAt(2023, 2, 11, "INV-002"),
		rowAt(2024, 3, 12, "INV-003"),
	}
	rows[0].BuyerName = "Buyer A"
	rows[0].TotalInvoiceAmount = 1500
	chunks := ChunkRows(rows, 4)

	path, err := w.Write("L001-100044638", "ABC Company", chunks)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "L001-100044638.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Equal(t, []string{"01-2023 - 03-2024"}, sheets)
	sheet := sheets[0]

	title, err := f.GetCellValue(sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "បញ្ជីទិន្នានុប្បវត្តិលក់ របស់ ABC Company", title)

	// fixed header template
	h, err := f.GetCellValue(sheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "ឆ្នាំ", h)
	h, err = f.GetCellValue(sheet, "F2")
	require.NoError(t, err)
	assert.Equal(t, "អ្នកទិញ", h)
	h, err = f.GetCellValue(sheet, "G3")
	require.NoError(t, err)
	assert.Equal(t, "លេខសម្គាល់ចុះបញ្ជីពន្ធដា", h)
	h, err = f.GetCellValue(sheet, "Y2")
	require.NoError(t, err)
	assert.Equal(t, "ស្នាក់ការ", h)

	// data rows: 2023 rows at 4-5, blank separator at 6, 2024 row at 7
	v, err := f.GetCellValue(sheet, "D4")
	require.NoError(t, err)
	assert.Equal(t, "INV-001", v)
	v, err = f.GetCellValue(sheet, "H4")
	require.NoError(t, err)
	assert.Equal(t, "Buyer A", v)
	v, err = f.GetCellValue(sheet, "D5")
	require.NoError(t, err)
	assert.Equal(t, "INV-002", v)
	v, err = f.GetCellValue(sheet, "D6")
	require.NoError(t, err)
	assert.Empty(t, v, "year change inserts a blank separator row")
	v, err = f.GetCellValue(sheet, "D7")
	require.NoError(t, err)
	assert.Equal(t, "INV-003", v)

	// sequence counter does not reset at the year boundary
	seq, err := f.GetCellValue(sheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "3", seq)

	// year column carries the transaction year
	year, err := f.GetCellValue(sheet, "A7")
	require.NoError(t, err)
	assert.Equal(t, "2024", year)
}

func TestMasterWriter_OneSheetPerChunk(t *testing.T) {
	dir := t.TempDir()
	w := NewMasterWriter(dir, slog.Default())

	rows := []declaration.Row{
		rowAt(2021, 1, 1, "A"),
		rowAt(2025, 6, 1, "B"),
	}
	chunks := ChunkRows(rows, 4)
	require.Len(t, chunks, 2)

	path, err := w.Write("K001-000000001", "Test Co", chunks)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"01-2021 - 01-2021", "06-2025 - 06-2025"}, f.GetSheetList())
}

func TestMasterWriter_HeaderMerges(t *testing.T) {
	dir := t.TempDir()
	w := NewMasterWriter(dir, slog.Default())

	chunks := ChunkRows([]declaration.Row{rowAt(2023, 1, 1, "A")}, 4)
	path, err := w.Write("K001-000000002", "Merge Co", chunks)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	merges, err := f.GetMergeCells(f.GetSheetList()[0])
	require.NoError(t, err)

	ranges := make(map[string]bool, len(merges))
	for _, m := range merges {
		ranges[m.GetStartAxis()+":"+m.GetEndAxis()] = true
	}

	assert.True(t, ranges["A1:Y1"], "title merge")
	assert.True(t, ranges["F2:H2"], "buyer group merge")
	assert.True(t, ranges["J2:K2"], "excl/non-VAT group merge")
	assert.True(t, ranges["M2:N2"], "VAT group merge")
	assert.True(t, ranges["A2:A3"], "vertical header merge")
	assert.True(t, ranges["Y2:Y3"], "branch vertical merge")
}

func TestMasterWriter_NoChunks(t *testing.T) {
	w := NewMasterWriter(t.TempDir(), slog.Default())
	_, err := w.Write("T1", "Empty Co", nil)
	assert.Error(t, err)
}
