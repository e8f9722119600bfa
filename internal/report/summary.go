package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"qworker/internal/consolidate"
	"qworker/internal/declaration"
)

// SummaryFilename is the fixed name of the rolling summary workbook. The
// leading zero keeps it sorted ahead of the per-taxpayer master files.
const SummaryFilename = "0.Import_Summary.xlsx"

// SummarySheet is the single sheet the summary workbook carries.
const SummarySheet = "Summary"

const (
	grandTotalLabel = "GRAND TOTAL"
	totalTINsPrefix = "Total TINs"
)

// Entry is one summary row: the transaction count for a (taxpayer, year)
// with a human-readable description of the months covered.
type Entry struct {
	TIN        string
	MonthRange string
	Year       int
	Count      int
}

// BuildEntries computes the summary entries for one taxpayer's full row
// history, one entry per year with data.
func BuildEntries(tin string, rows []declaration.Row) []Entry {
	monthsByYear := make(map[int][]int)
	countByYear := make(map[int]int)
	for _, row := range rows {
		y := row.Year()
		monthsByYear[y] = append(monthsByYear[y], row.Month())
		countByYear[y]++
	}

	years := make([]int, 0, len(countByYear))
	for y := range countByYear {
		years = append(years, y)
	}
	sort.Ints(years)

	entries := make([]Entry, 0, len(years))
	for _, y := range years {
		entries = append(entries, Entry{
			TIN:        tin,
			MonthRange: FormatMonthList(monthsByYear[y]),
			Year:       y,
			Count:      countByYear[y],
		})
	}
	return entries
}

// SummaryWriter owns the summary workbook; it is the sole writer of it.
type SummaryWriter struct {
	outputDir string
	logger    *slog.Logger
}

// NewSummaryWriter creates a summary writer for the output directory.
func NewSummaryWriter(outputDir string, logger *slog.Logger) *SummaryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryWriter{outputDir: outputDir, logger: logger}
}

// Update merges the run's freshly computed entries into the workbook:
// existing rows for any taxpayer present in entries are discarded wholesale,
// the new entries appended, and the full set re-sorted by (TIN, year).
// Returns the saved file path, or "" when there was nothing to write.
func (w *SummaryWriter) Update(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	path := filepath.Join(w.outputDir, SummaryFilename)

	existing, err := w.loadExisting(path)
	if err != nil {
		// a damaged summary is rebuilt from the current run only
		w.logger.Warn("failed to read existing summary, starting fresh",
			slog.String("error", err.Error()))
		existing = nil
	}

	touched := make(map[string]bool, len(entries))
	for _, e := range entries {
		touched[e.TIN] = true
	}

	final := make([]Entry, 0, len(existing)+len(entries))
	for _, e := range existing {
		if !touched[e.TIN] {
			final = append(final, e)
		}
	}
	final = append(final, entries...)

	sort.Slice(final, func(i, j int) bool {
		if final[i].TIN != final[j].TIN {
			return final[i].TIN < final[j].TIN
		}
		return final[i].Year < final[j].Year
	})

	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := w.render(path, final); err != nil {
		return "", err
	}

	w.logger.Info("summary report updated",
		slog.Int("rows", len(final)),
		slog.Int("taxpayers_touched", len(touched)))
	return path, nil
}

// loadExisting reads the data rows of an existing summary workbook,
// filtering out the grand-total block. A missing file yields no rows.
func (w *SummaryWriter) loadExisting(path string) ([]Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SummarySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary sheet: %w", err)
	}

	var entries []Entry
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		e, ok := parseSummaryRow(row)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// parseSummaryRow converts one sheet row (No, TIN, Month, Year, Count) into
// an Entry, rejecting total rows and blanks.
func parseSummaryRow(row []string) (Entry, bool) {
	get := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	tin := get(1)
	if tin == "" || get(0) == grandTotalLabel || strings.HasPrefix(tin, totalTINsPrefix) {
		return Entry{}, false
	}

	year, err := strconv.Atoi(get(3))
	if err != nil {
		return Entry{}, false
	}
	count, err := strconv.Atoi(strings.ReplaceAll(get(4), ",", ""))
	if err != nil {
		return Entry{}, false
	}

	return Entry{TIN: tin, MonthRange: get(2), Year: year, Count: count}, true
}

// render writes the full summary sheet: header, per-taxpayer groups with
// vertical merges and alternating band color, and the grand-total row.
func (w *SummaryWriter) render(path string, entries []Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	styles, err := registerSummaryStyles(f)
	if err != nil {
		return fmt.Errorf("failed to register styles: %w", err)
	}

	headers := []string{"No", "TIN", "Month", "Year", "Total Transactions"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SummarySheet, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "E1", styles.header); err != nil {
		return err
	}

	totalCount := 0
	tinSet := make(map[string]bool)

	rowNum := 2
	groupNo := 0
	for start := 0; start < len(entries); {
		end := start
		for end < len(entries) && entries[end].TIN == entries[start].TIN {
			end++
		}
		groupNo++
		band := groupNo%2 == 0

		groupStart := rowNum
		for _, e := range entries[start:end] {
			if err := writeSummaryRow(f, styles, rowNum, e, band); err != nil {
				return err
			}
			totalCount += e.Count
			tinSet[e.TIN] = true
			rowNum++
		}

		// leading sequence and TIN merged vertically across the group
		if err := f.SetCellValue(SummarySheet,
			fmt.Sprintf("A%d", groupStart), groupNo); err != nil {
			return err
		}
		if rowNum-1 > groupStart {
			if err := f.MergeCell(SummarySheet,
				fmt.Sprintf("A%d", groupStart), fmt.Sprintf("A%d", rowNum-1)); err != nil {
				return err
			}
			if err := f.MergeCell(SummarySheet,
				fmt.Sprintf("B%d", groupStart), fmt.Sprintf("B%d", rowNum-1)); err != nil {
				return err
			}
		}

		start = end
	}

	// grand-total row
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", rowNum), grandTotalLabel); err != nil {
		return err
	}
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", rowNum),
		fmt.Sprintf("%s: %d", totalTINsPrefix, len(tinSet))); err != nil {
		return err
	}
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("E%d", rowNum), totalCount); err != nil {
		return err
	}
	if err := f.SetCellStyle(SummarySheet,
		fmt.Sprintf("A%d", rowNum), fmt.Sprintf("E%d", rowNum), styles.total); err != nil {
		return err
	}

	widths := []struct {
		letter string
		width  float64
	}{
		{"A", 15}, {"B", 25}, {"C", 35}, {"D", 10}, {"E", 20},
	}
	for _, cw := range widths {
		if err := f.SetColWidth(SummarySheet, cw.letter, cw.letter, cw.width); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save summary workbook: %w", err)
	}
	return nil
}

// writeSummaryRow writes one data row with the group's band styling.
func writeSummaryRow(f *excelize.File, styles summaryStyles, rowNum int, e Entry, band bool) error {
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", rowNum), e.TIN); err != nil {
		return err
	}
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("C%d", rowNum), e.MonthRange); err != nil {
		return err
	}
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("D%d", rowNum), e.Year); err != nil {
		return err
	}
	if err := f.SetCellValue(SummarySheet, fmt.Sprintf("E%d", rowNum), e.Count); err != nil {
		return err
	}

	b := 0
	if band {
		b = 1
	}
	if err := f.SetCellStyle(SummarySheet,
		fmt.Sprintf("A%d", rowNum), fmt.Sprintf("B%d", rowNum), styles.center[b]); err != nil {
		return err
	}
	// month description is the one left-aligned column
	if err := f.SetCellStyle(SummarySheet,
		fmt.Sprintf("C%d", rowNum), fmt.Sprintf("C%d", rowNum), styles.left[b]); err != nil {
		return err
	}
	if err := f.SetCellStyle(SummarySheet,
		fmt.Sprintf("D%d", rowNum), fmt.Sprintf("D%d", rowNum), styles.center[b]); err != nil {
		return err
	}
	return f.SetCellStyle(SummarySheet,
		fmt.Sprintf("E%d", rowNum), fmt.Sprintf("E%d", rowNum), styles.count[b])
}

type summaryStyles struct {
	header int
	center [2]int
	left   [2]int
	count  [2]int
	total  int
}

func registerSummaryStyles(f *excelize.File) (summaryStyles, error) {
	var s summaryStyles
	var err error

	border := consolidate.BoxBorder("000000")
	countFmt := "#,##0"

	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return s, err
	}

	bandFills := []string{"FFFFFF", "D9E1F2"}
	for b, fill := range bandFills {
		fillDef := excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1}

		if s.center[b], err = f.NewStyle(&excelize.Style{
			Fill:      fillDef,
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border:    border,
		}); err != nil {
			return s, err
		}
		if s.left[b], err = f.NewStyle(&excelize.Style{
			Fill:      fillDef,
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center", WrapText: true},
			Border:    border,
		}); err != nil {
			return s, err
		}
		if s.count[b], err = f.NewStyle(&excelize.Style{
			Fill:         fillDef,
			Alignment:    &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border:       border,
			CustomNumFmt: &countFmt,
		}); err != nil {
			return s, err
		}
	}

	s.total, err = f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Bold: true},
		Fill:         excelize.Fill{Type: "pattern", Color: []string{"ACB9CA"}, Pattern: 1},
		Alignment:    &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:       border,
		CustomNumFmt: &countFmt,
	})
	return s, err
}
