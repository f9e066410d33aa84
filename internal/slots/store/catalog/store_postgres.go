package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

// PostgresCatalog reads packages, chapter amounts and split codes from
// PostgreSQL. The catalog is read-only from the ledger's perspective.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) QuoteForChapter(ctx context.Context, chapterID id.ChapterID, packageID id.PackageID) (*models.PackageQuote, error) {
	query := `
		SELECT p.id, p.name, p.slot_count, p.is_active, ch.amount,
		       COALESCE(sc.split_code, '')
		FROM slot_packages p
		JOIN chapters ch ON ch.id = $1
		LEFT JOIN chapter_split_codes sc
			ON sc.package_id = p.id AND sc.chapter_id = ch.id AND sc.is_active
		WHERE p.id = $2 AND p.is_active
	`
	var quote models.PackageQuote
	var amount int64
	err := c.db.QueryRowContext(ctx, query, int64(chapterID), int64(packageID)).Scan(
		&quote.Package.ID, &quote.Package.Name, &quote.Package.SlotCount,
		&quote.Package.Active, &amount, &quote.SplitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("quote slot package: %w", err)
	}
	quote.ChapterID = chapterID
	quote.Price = int64(quote.Package.SlotCount) * amount
	return &quote, nil
}

func (c *PostgresCatalog) ListForChapter(ctx context.Context, chapterID id.ChapterID) ([]models.PackageQuote, error) {
	query := `
		SELECT p.id, p.name, p.slot_count, p.is_active, ch.amount,
		       COALESCE(sc.split_code, '')
		FROM slot_packages p
		JOIN chapters ch ON ch.id = $1
		LEFT JOIN chapter_split_codes sc
			ON sc.package_id = p.id AND sc.chapter_id = ch.id AND sc.is_active
		WHERE p.is_active
		ORDER BY p.id
	`
	rows, err := c.db.QueryContext(ctx, query, int64(chapterID))
	if err != nil {
		return nil, fmt.Errorf("list slot packages: %w", err)
	}
	defer rows.Close()

	var quotes []models.PackageQuote
	for rows.Next() {
		var quote models.PackageQuote
		var amount int64
		if err := rows.Scan(&quote.Package.ID, &quote.Package.Name, &quote.Package.SlotCount,
			&quote.Package.Active, &amount, &quote.SplitCode); err != nil {
			return nil, fmt.Errorf("scan slot package: %w", err)
		}
		quote.ChapterID = chapterID
		quote.Price = int64(quote.Package.SlotCount) * amount
		quotes = append(quotes, quote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot packages: %w", err)
	}
	return quotes, nil
}
