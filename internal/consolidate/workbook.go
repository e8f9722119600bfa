package consolidate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"qworker/internal/declaration"
)

// cellKind selects the body style and formatting for a column.
type cellKind int

const (
	kindText cellKind = iota
	kindDate
	kindAmount
)

// column describes one master-sheet column: position, the two stacked
// bilingual header cells, its width and how its body cells are drawn. The
// table is the output contract with downstream auditors and must be
// reproduced cell-for-cell.
type column struct {
	letter  string
	header1 string
	header2 string
	width   float64
	kind    cellKind
}

// masterColumns is the fixed column template of a master workbook sheet:
// leading year/sequence pair, 23 business columns, trailing branch column.
var masterColumns = []column{
	{"A", "ឆ្នាំ", "", 8, kindText},
	{"B", "ល.រ", "", 6, kindText},
	{"C", "កាលបរិច្ឆេទ", "", 14, kindDate},
	{"D", "លេខវិក្កយបត្រ ឬប្រតិវេទគយ", "", 18, kindText},
	{"E", "លេខលិខិតជូនដំណឹងឥណទាន", "", 15, kindText},
	{"F", "អ្នកទិញ", "ប្រភេទ", 15, kindText},
	{"G", "", "លេខសម្គាល់ចុះបញ្ជីពន្ធដា", 18, kindText},
	{"H", "", "ឈ្មោះ", 30, kindText},
	{"I", "តម្លៃសរុបលើវិក្កយបត្រ", "", 20, kindAmount},
	{"J", "តម្លៃ​​មិន​រួមអតប និងមិនជាប់​អតប​", "តម្លៃមិនរួមអតប", 18, kindAmount},
	{"K", "", "ការលក់មិនជាប់អតប", 18, kindAmount},
	{"L", "អាករលើតម្លៃបន្ថែមអត្រា ០% ", "", 18, kindAmount},
	{"M", "អាករលើតម្លៃបន្ថែម", "ការលក់ក្នុងស្រុក", 18, kindAmount},
	{"N", "", "អតបលើការនាំចេញ", 18, kindAmount},
	{"O", "អាករលើតម្លៃបន្ថែម(បន្ទុករដ្ឋ)", "", 18, kindAmount},
	{"P", "អតប កាត់ទុកដោយរតនាគារជាតិ", "", 18, kindAmount},
	{"Q", "អាករបំភ្លឺសាធារណៈ", "", 18, kindAmount},
	{"R", "អាករពិសេសលើទំនិញមួយចំនួន", "", 18, kindAmount},
	{"S", "អាករពិសេសលើសេវាមួយចំនួន", "", 18, kindAmount},
	{"T", "អាករលើការស្នាក់នៅ", "", 18, kindAmount},
	{"U", "អត្រាប្រាក់រំដោះពន្ធលើប្រាក់ចំណូល", "", 15, kindText},
	{"V", "កំណត់សម្គាល់", "", 20, kindText},
	{"W", "បរិយាយ", "", 25, kindText},
	{"X", "ស្ថានភាពប្រកាសពន្ធ", "", 20, kindText},
	{"Y", "ស្នាក់ការ", "", 25, kindText},
}

// Grouped headers merged across row 2, and the columns whose two header
// rows are merged vertically.
var (
	headerGroupMerges = [][2]string{{"F2", "H2"}, {"J2", "K2"}, {"M2", "N2"}}
	headerVerticalCols = []string{
		"A", "B", "C", "D", "E", "I", "L", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y",
	}
)

const (
	fontTitle  = "Khmer OS Muol Light"
	fontBody   = "Khmer OS Siemreap"
	fillHeader = "B0DBBC"
	fillBand   = "F5F5F5"
)

// sheetStyles holds the style ids registered once per workbook.
type sheetStyles struct {
	title      int
	header     int
	body       [2]int // plain, banded
	bodyDate   [2]int
	bodyAmount [2]int
}

// MasterWriter renders per-taxpayer master workbooks into the output
// directory.
type MasterWriter struct {
	outputDir string
	logger    *slog.Logger
}

// NewMasterWriter creates a master workbook writer.
func NewMasterWriter(outputDir string, logger *slog.Logger) *MasterWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MasterWriter{outputDir: outputDir, logger: logger}
}

// Write renders one workbook for the taxpayer, one sheet per populated
// chunk, and returns the saved file path.
func (w *MasterWriter) Write(tin, companyName string, chunks []Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("no chunks to render for %s", tin)
	}

	f := excelize.NewFile()
	defer f.Close()

	styles, err := registerStyles(f)
	if err != nil {
		return "", fmt.Errorf("failed to register styles: %w", err)
	}

	for _, chunk := range chunks {
		if err := writeChunkSheet(f, styles, companyName, chunk); err != nil {
			return "", fmt.Errorf("failed to render sheet %s: %w", chunk.SheetName(), err)
		}
	}

	// drop the default sheet excelize creates
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("failed to remove default sheet: %w", err)
	}

	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(w.outputDir, tin+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save master workbook: %w", err)
	}

	w.logger.Info("master workbook written",
		slog.String("tin", tin),
		slog.Int("sheets", len(chunks)),
		slog.String("file", filepath.Base(path)))
	return path, nil
}

// writeChunkSheet renders one chunk as one worksheet.
func writeChunkSheet(f *excelize.File, styles sheetStyles, companyName string, chunk Chunk) error {
	sheet := chunk.SheetName()
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	// title row
	title := fmt.Sprintf("បញ្ជីទិន្នានុប្បវត្តិលក់ របស់ %s", companyName)
	if err := f.SetCellValue(sheet, "A1", title); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", styles.title); err != nil {
		return err
	}
	if err := f.MergeCell(sheet, "A1", "Y1"); err != nil {
		return err
	}

	// stacked header rows
	for _, col := range masterColumns {
		if col.header1 != "" {
			if err := f.SetCellValue(sheet, col.letter+"2", col.header1); err != nil {
				return err
			}
		}
		if col.header2 != "" {
			if err := f.SetCellValue(sheet, col.letter+"3", col.header2); err != nil {
				return err
			}
		}
		if err := f.SetCellStyle(sheet, col.letter+"2", col.letter+"3", styles.header); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col.letter, col.letter, col.width); err != nil {
			return err
		}
	}
	for _, m := range headerGroupMerges {
		if err := f.MergeCell(sheet, m[0], m[1]); err != nil {
			return err
		}
	}
	for _, letter := range headerVerticalCols {
		if err := f.MergeCell(sheet, letter+"2", letter+"3"); err != nil {
			return err
		}
	}

	return writeChunkRows(f, styles, sheet, chunk.Rows)
}

// writeChunkRows writes the data block: rows ordered by date, a blank
// separator row at each year change, a per-chunk sequence counter that does
// not reset at year boundaries, and banding by sequence parity.
func writeChunkRows(f *excelize.File, styles sheetStyles, sheet string, rows []declaration.Row) error {
	currentRow := 4
	counter := 1
	previousYear := 0

	for _, row := range rows {
		year := row.Year()
		if previousYear != 0 && year != previousYear {
			currentRow++
		}
		previousYear = year

		band := 0
		if counter%2 == 0 {
			band = 1
		}

		values := []interface{}{
			year, counter, row.Date, row.InvoiceNumber, row.CreditNotificationLetterNumber,
			row.BuyerType, row.BuyerTaxID, row.BuyerName, row.TotalInvoiceAmount,
			row.AmountExcludeVAT, row.NonVATSales, row.VATZeroRate, row.VATLocalSale,
			row.VATExport, row.VATLocalSaleStateBurden, row.VATWithheldByTreasury,
			row.PublicLightingTax, row.SpecialTaxGoods, row.SpecialTaxServices,
			row.AccommodationTax, row.IncomeTaxRedemptionRate, row.Notes,
			row.Description, row.DeclarationStatus, row.Branch,
		}

		for i, col := range masterColumns {
			cell := fmt.Sprintf("%s%d", col.letter, currentRow)
			if err := f.SetCellValue(sheet, cell, values[i]); err != nil {
				return err
			}
			style := styles.body[band]
			switch col.kind {
			case kindDate:
				style = styles.bodyDate[band]
			case kindAmount:
				style = styles.bodyAmount[band]
			}
			if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
				return err
			}
		}

		currentRow++
		counter++
	}
	return nil
}

// registerStyles registers the declarative style set on the workbook.
func registerStyles(f *excelize.File) (sheetStyles, error) {
	var s sheetStyles
	var err error

	s.title, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: fontTitle, Size: 12},
	})
	if err != nil {
		return s, err
	}

	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Family: fontBody, Size: 11, Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{fillHeader}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    BoxBorder("000000"),
	})
	if err != nil {
		return s, err
	}

	dateFmt := "dd-mm-yyyy"
	amountFmt := "#,##0"

	for band := 0; band < 2; band++ {
		base := excelize.Style{
			Font:   &excelize.Font{Family: fontBody, Size: 11},
			Border: BoxBorder("DDDDDD"),
		}
		if band == 1 {
			base.Fill = excelize.Fill{Type: "pattern", Color: []string{fillBand}, Pattern: 1}
		}

		plain := base
		if s.body[band], err = f.NewStyle(&plain); err != nil {
			return s, err
		}

		date := base
		date.CustomNumFmt = &dateFmt
		if s.bodyDate[band], err = f.NewStyle(&date); err != nil {
			return s, err
		}

		amount := base
		amount.CustomNumFmt = &amountFmt
		if s.bodyAmount[band], err = f.NewStyle(&amount); err != nil {
			return s, err
		}
	}

	return s, nil
}

// BoxBorder builds a four-sided thin border in the given color. It is the
// border primitive shared by every workbook writer.
func BoxBorder(color string) []excelize.Border {
	sides := []string{"left", "right", "top", "bottom"}
	borders := make([]excelize.Border, 0, len(sides))
	for _, side := range sides {
		borders = append(borders, excelize.Border{Type: side, Color: color, Style: 1})
	}
	return borders
}
