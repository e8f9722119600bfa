// Package declaration defines the tax declaration row domain type and the
// spreadsheet normalizer that produces it.
package declaration

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the strict day-month-year format used by source spreadsheets.
const DateLayout = "02-01-2006"

// Row is one sales transaction line of a VAT sales declaration.
// Rows are created at normalization time and immutable thereafter.
type Row struct {
	Date                           time.Time
	InvoiceNumber                  string
	CreditNotificationLetterNumber string
	BuyerType                      string
	BuyerTaxID                     string
	BuyerName                      string
	TotalInvoiceAmount             float64
	AmountExcludeVAT               float64
	NonVATSales                    float64
	VATZeroRate                    float64
	VATLocalSale                   float64
	VATExport                      float64
	VATLocalSaleStateBurden        float64
	VATWithheldByTreasury          float64
	PublicLightingTax              float64
	SpecialTaxGoods                float64
	SpecialTaxServices             float64
	AccommodationTax               float64
	IncomeTaxRedemptionRate        float64
	Notes                          string
	Description                    string
	DeclarationStatus              string

	// Import metadata, excluded from the core identity of a row.
	TIN        string
	Branch     string
	ImportedBy string
	ImportedAt time.Time
}

// Year returns the transaction year.
func (r Row) Year() int {
	return r.Date.Year()
}

// Month returns the transaction month number (1-12).
func (r Row) Month() int {
	return int(r.Date.Month())
}

// CoreKey returns a stable projection of the row's business fields. Two rows
// with equal core keys for the same taxpayer are the same transaction and
// must not both be stored.
func (r Row) CoreKey() string {
	parts := []string{
		r.Date.Format(DateLayout),
		r.InvoiceNumber,
		r.CreditNotificationLetterNumber,
		r.BuyerType,
		r.BuyerTaxID,
		r.BuyerName,
		formatAmount(r.TotalInvoiceAmount),
		formatAmount(r.AmountExcludeVAT),
		formatAmount(r.NonVATSales),
		formatAmount(r.VATZeroRate),
		formatAmount(r.VATLocalSale),
		formatAmount(r.VATExport),
		formatAmount(r.VATLocalSaleStateBurden),
		formatAmount(r.VATWithheldByTreasury),
		formatAmount(r.PublicLightingTax),
		formatAmount(r.SpecialTaxGoods),
		formatAmount(r.SpecialTaxServices),
		formatAmount(r.AccommodationTax),
		formatAmount(r.IncomeTaxRedemptionRate),
		r.Notes,
		r.Description,
		r.DeclarationStatus,
	}
	return strings.Join(parts, "\x1f")
}

// formatAmount renders an amount with two decimal places so that core keys
// compare equal regardless of float representation noise.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
