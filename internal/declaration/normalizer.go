package declaration

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Column field names used by the positional column-index table.
const (
	ColDate                           = "date"
	ColInvoiceNumber                  = "invoice_number"
	ColCreditNotificationLetterNumber = "credit_notification_letter_number"
	ColBuyerType                      = "buyer_type"
	ColBuyerTaxID                     = "buyer_tax_id"
	ColBuyerName                      = "buyer_name"
	ColTotalInvoiceAmount             = "total_invoice_amount"
	ColAmountExcludeVAT               = "amount_exclude_vat"
	ColNonVATSales                    = "non_vat_sales"
	ColVATZeroRate                    = "vat_zero_rate"
	ColVATLocalSale                   = "vat_local_sale"
	ColVATExport                      = "vat_export"
	ColVATLocalSaleStateBurden        = "vat_local_sale_state_burden"
	ColVATWithheldByTreasury          = "vat_withheld_by_treasury"
	ColPublicLightingTax              = "public_lighting_tax"
	ColSpecialTaxGoods                = "special_tax_goods"
	ColSpecialTaxServices             = "special_tax_services"
	ColAccommodationTax               = "accommodation_tax"
	ColIncomeTaxRedemptionRate        = "income_tax_redemption_rate"
	ColNotes                          = "notes"
	ColDescription                    = "description"
	ColDeclarationStatus              = "declaration_status"
)

// ColumnMap maps declaration field names to zero-based spreadsheet column
// indexes. Source files are positional: header text is never consulted for
// data rows. The map is configuration so a changed template only needs a
// config update, not a code change.
type ColumnMap map[string]int

// DefaultColumns returns the column layout of the standard sales
// declaration template. Column 0 is the source file's own sequence number
// and is not mapped.
func DefaultColumns() ColumnMap {
	return ColumnMap{
		ColDate:                           1,
		ColInvoiceNumber:                  2,
		ColCreditNotificationLetterNumber: 3,
		ColBuyerType:                      4,
		ColBuyerTaxID:                     5,
		ColBuyerName:                      6,
		ColTotalInvoiceAmount:             7,
		ColAmountExcludeVAT:               8,
		ColNonVATSales:                    9,
		ColVATZeroRate:                    10,
		ColVATLocalSale:                   11,
		ColVATExport:                      12,
		ColVATLocalSaleStateBurden:        13,
		ColVATWithheldByTreasury:          14,
		ColPublicLightingTax:              15,
		ColSpecialTaxGoods:                16,
		ColSpecialTaxServices:             17,
		ColAccommodationTax:               18,
		ColIncomeTaxRedemptionRate:        19,
		ColNotes:                          20,
		ColDescription:                    21,
		ColDeclarationStatus:              22,
	}
}

// ParsedFile is the result of normalizing one source spreadsheet.
type ParsedFile struct {
	Title   string
	Rows    []Row
	Skipped int
}

// Normalizer reads sales declaration spreadsheets and maps their positional
// columns into Row values.
type Normalizer struct {
	headerRows int
	columns    ColumnMap
	logger     *slog.Logger
}

// NewNormalizer creates a normalizer. A nil or empty column map selects the
// built-in layout; headerRows below zero selects the standard three.
func NewNormalizer(logger *slog.Logger, headerRows int, columns ColumnMap) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(columns) == 0 {
		columns = DefaultColumns()
	}
	if headerRows < 0 {
		headerRows = 3
	}
	return &Normalizer{
		headerRows: headerRows,
		columns:    columns,
		logger:     logger,
	}
}

// ReadFile reads one spreadsheet and returns its title cell and normalized
// rows stamped with the given import metadata. Rows lacking an invoice
// number or carrying an unparseable date are dropped, not erred on. The
// import timestamp is captured once per file.
func (n *Normalizer) ReadFile(path, tin, branch, importedBy string) (*ParsedFile, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("spreadsheet %s has no sheets", path)
	}

	title, err := f.GetCellValue(sheet, "A1")
	if err != nil {
		title = ""
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", path, err)
	}

	parsed := &ParsedFile{Title: title}
	importedAt := time.Now()

	for i := n.headerRows; i < len(rows); i++ {
		raw := rows[i]
		if isEmptyRow(raw) {
			continue
		}

		invoice := n.cellString(raw, ColInvoiceNumber)
		if invoice == "" {
			parsed.Skipped++
			continue
		}

		date, ok := n.cellDate(raw, ColDate)
		if !ok {
			n.logger.Warn("dropping row with unparseable date",
				slog.String("file", path),
				slog.Int("row", i+1),
				slog.String("invoice_number", invoice))
			parsed.Skipped++
			continue
		}

		parsed.Rows = append(parsed.Rows, Row{
			Date:                           date,
			InvoiceNumber:                  invoice,
			CreditNotificationLetterNumber: n.cellString(raw, ColCreditNotificationLetterNumber),
			BuyerType:                      n.cellString(raw, ColBuyerType),
			BuyerTaxID:                     n.cellString(raw, ColBuyerTaxID),
			BuyerName:                      n.cellString(raw, ColBuyerName),
			TotalInvoiceAmount:             n.cellAmount(raw, ColTotalInvoiceAmount),
			AmountExcludeVAT:               n.cellAmount(raw, ColAmountExcludeVAT),
			NonVATSales:                    n.cellAmount(raw, ColNonVATSales),
			VATZeroRate:                    n.cellAmount(raw, ColVATZeroRate),
			VATLocalSale:                   n.cellAmount(raw, ColVATLocalSale),
			VATExport:                      n.cellAmount(raw, ColVATExport),
			VATLocalSaleStateBurden:        n.cellAmount(raw, ColVATLocalSaleStateBurden),
			VATWithheldByTreasury:          n.cellAmount(raw, ColVATWithheldByTreasury),
			PublicLightingTax:              n.cellAmount(raw, ColPublicLightingTax),
			SpecialTaxGoods:                n.cellAmount(raw, ColSpecialTaxGoods),
			SpecialTaxServices:             n.cellAmount(raw, ColSpecialTaxServices),
			AccommodationTax:               n.cellAmount(raw, ColAccommodationTax),
			IncomeTaxRedemptionRate:        n.cellAmount(raw, ColIncomeTaxRedemptionRate),
			Notes:                          n.cellString(raw, ColNotes),
			Description:                    n.cellString(raw, ColDescription),
			DeclarationStatus:              n.cellString(raw, ColDeclarationStatus),
			TIN:                            tin,
			Branch:                         branch,
			ImportedBy:                     importedBy,
			ImportedAt:                     importedAt,
		})
	}

	return parsed, nil
}

// cellString returns the trimmed text of the mapped column, or "" when the
// column is absent from the row.
func (n *Normalizer) cellString(row []string, field string) string {
	idx, ok := n.columns[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// cellAmount returns the mapped column cast to a number. An unparseable or
// absent value yields zero; downstream cannot distinguish that from a true
// zero, which mirrors the source system's behavior.
func (n *Normalizer) cellAmount(row []string, field string) float64 {
	s := n.cellString(row, field)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// cellDate parses the mapped column with the strict day-month-year layout.
func (n *Normalizer) cellDate(row []string, field string) (time.Time, bool) {
	s := n.cellString(row, field)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
