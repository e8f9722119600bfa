package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"qworker/internal/declaration"
)

const schema = `
CREATE TABLE IF NOT EXISTS tax_declaration (
	id BIGINT GENERATED ALWAYS AS IDENTITY,
	date DATE NOT NULL,
	invoice_number TEXT NOT NULL,
	credit_notification_letter_number TEXT NOT NULL DEFAULT '',
	buyer_type TEXT NOT NULL DEFAULT '',
	buyer_tax_id TEXT NOT NULL DEFAULT '',
	buyer_name TEXT NOT NULL DEFAULT '',
	total_invoice_amount NUMERIC(15,2) NOT NULL DEFAULT 0,
	amount_exclude_vat NUMERIC(15,2) NOT NULL DEFAULT 0,
	non_vat_sales NUMERIC(15,2) NOT NULL DEFAULT 0,
	vat_zero_rate NUMERIC(15,2) NOT NULL DEFAULT 0,
	vat_local_sale NUMERIC(15,2) NOT NULL DEFAULT 0,
	vat_export NUMERIC(15,2) NOT NULL DEFAULT 0,
	vat_local_sale_state_burden NUMERIC(15,2) NOT NULL DEFAULT 0,
	vat_withheld_by_treasury NUMERIC(15,2) NOT NULL DEFAULT 0,
	public_lighting_tax NUMERIC(15,2) NOT NULL DEFAULT 0,
	special_tax_goods NUMERIC(15,2) NOT NULL DEFAULT 0,
	special_tax_services NUMERIC(15,2) NOT NULL DEFAULT 0,
	accommodation_tax NUMERIC(15,2) NOT NULL DEFAULT 0,
	income_tax_redemption_rate NUMERIC(15,2) NOT NULL DEFAULT 0,
	notes TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	declaration_status TEXT NOT NULL DEFAULT '',
	file_tin TEXT NOT NULL,
	branch_name TEXT NOT NULL DEFAULT '',
	imported_by TEXT NOT NULL DEFAULT '',
	import_timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tax_declaration_file_tin ON tax_declaration (file_tin);
CREATE INDEX IF NOT EXISTS idx_tax_declaration_date ON tax_declaration (date);
CREATE INDEX IF NOT EXISTS idx_tax_declaration_invoice ON tax_declaration (invoice_number);
`

const coreColumns = `date, invoice_number, credit_notification_letter_number, buyer_type,
	buyer_tax_id, buyer_name, total_invoice_amount, amount_exclude_vat,
	non_vat_sales, vat_zero_rate, vat_local_sale, vat_export,
	vat_local_sale_state_burden, vat_withheld_by_treasury, public_lighting_tax,
	special_tax_goods, special_tax_services, accommodation_tax,
	income_tax_redemption_rate, notes, description, declaration_status`

// PostgresStore is the durable Store backed by Postgres via the pgx stdlib
// driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and bootstraps the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// InsertBatch inserts the rows whose core tuple is not yet stored for the
// taxpayer. The dedup check and the inserts share one transaction so a
// concurrent batch for the same taxpayer cannot interleave duplicates, and
// a retried batch is detected by the check rather than by rollback state.
func (s *PostgresStore) InsertBatch(ctx context.Context, tin string, rows []declaration.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := coreKeysForTaxpayer(ctx, tx, tin)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tax_declaration (`+coreColumns+`,
		file_tin, branch_name, imported_by, import_timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, row := range rows {
		key := row.CoreKey()
		if _, dup := existing[key]; dup {
			continue
		}
		existing[key] = struct{}{}

		if _, err := stmt.ExecContext(ctx,
			row.Date, row.InvoiceNumber, row.CreditNotificationLetterNumber,
			row.BuyerType, row.BuyerTaxID, row.BuyerName,
			row.TotalInvoiceAmount, row.AmountExcludeVAT, row.NonVATSales,
			row.VATZeroRate, row.VATLocalSale, row.VATExport,
			row.VATLocalSaleStateBurden, row.VATWithheldByTreasury,
			row.PublicLightingTax, row.SpecialTaxGoods, row.SpecialTaxServices,
			row.AccommodationTax, row.IncomeTaxRedemptionRate,
			row.Notes, row.Description, row.DeclarationStatus,
			tin, row.Branch, row.ImportedBy, row.ImportedAt,
		); err != nil {
			return 0, fmt.Errorf("failed to insert row %s: %w", row.InvoiceNumber, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return inserted, nil
}

// coreKeysForTaxpayer loads the core-key projection of the taxpayer's
// stored rows.
func coreKeysForTaxpayer(ctx context.Context, tx *sql.Tx, tin string) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+coreColumns+` FROM tax_declaration WHERE file_tin = $1`, tin)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing rows: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var r declaration.Row
		if err := scanCore(rows, &r); err != nil {
			return nil, err
		}
		keys[r.CoreKey()] = struct{}{}
	}
	return keys, rows.Err()
}

// RowsForTaxpayer returns the taxpayer's full history ordered by date
// ascending.
func (s *PostgresStore) RowsForTaxpayer(ctx context.Context, tin string) ([]declaration.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+coreColumns+`,
		file_tin, branch_name, imported_by, import_timestamp
		FROM tax_declaration WHERE file_tin = $1
		ORDER BY date ASC, invoice_number ASC`, tin)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows for %s: %w", tin, err)
	}
	defer rows.Close()

	var out []declaration.Row
	for rows.Next() {
		var r declaration.Row
		if err := scanFull(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Taxpayers returns every taxpayer id with stored history.
func (s *PostgresStore) Taxpayers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_tin FROM tax_declaration ORDER BY file_tin`)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxpayers: %w", err)
	}
	defer rows.Close()

	var tins []string
	for rows.Next() {
		var tin string
		if err := rows.Scan(&tin); err != nil {
			return nil, fmt.Errorf("failed to scan taxpayer id: %w", err)
		}
		tins = append(tins, tin)
	}
	return tins, rows.Err()
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanCore(rows *sql.Rows, r *declaration.Row) error {
	if err := rows.Scan(
		&r.Date, &r.InvoiceNumber, &r.CreditNotificationLetterNumber,
		&r.BuyerType, &r.BuyerTaxID, &r.BuyerName,
		&r.TotalInvoiceAmount, &r.AmountExcludeVAT, &r.NonVATSales,
		&r.VATZeroRate, &r.VATLocalSale, &r.VATExport,
		&r.VATLocalSaleStateBurden, &r.VATWithheldByTreasury,
		&r.PublicLightingTax, &r.SpecialTaxGoods, &r.SpecialTaxServices,
		&r.AccommodationTax, &r.IncomeTaxRedemptionRate,
		&r.Notes, &r.Description, &r.DeclarationStatus,
	); err != nil {
		return fmt.Errorf("failed to scan row: %w", err)
	}
	return nil
}

func scanFull(rows *sql.Rows, r *declaration.Row) error {
	if err := rows.Scan(
		&r.Date, &r.InvoiceNumber, &r.CreditNotificationLetterNumber,
		&r.BuyerType, &r.BuyerTaxID, &r.BuyerName,
		&r.TotalInvoiceAmount, &r.AmountExcludeVAT, &r.NonVATSales,
		&r.VATZeroRate, &r.VATLocalSale, &r.VATExport,
		&r.VATLocalSaleStateBurden, &r.VATWithheldByTreasury,
		&r.PublicLightingTax, &r.SpecialTaxGoods, &r.SpecialTaxServices,
		&r.AccommodationTax, &r.IncomeTaxRedemptionRate,
		&r.Notes, &r.Description, &r.DeclarationStatus,
		&r.TIN, &r.Branch, &r.ImportedBy, &r.ImportedAt,
	); err != nil {
		return fmt.Errorf("failed to scan row: %w", err)
	}
	return nil
}
