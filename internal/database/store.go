package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/metrics"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

// Store persists scraped product records and their price history.
type Store struct {
	db      *DB
	metrics *metrics.Metrics
}

func NewStore(db *DB, m *metrics.Metrics) *Store {
	return &Store{db: db, metrics: m}
}

// SavePricePoint upserts the product row and appends a price history row.
// It returns the price stored before this call so callers can detect
// movements; hadPrev is false for a product seen for the first time.
func (s *Store) SavePricePoint(ctx context.Context, record *models.ProductRecord) (prevPrice float64, hadPrev bool, err error) {
	start := time.Now()
	defer s.observe(start)

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT last_price FROM products WHERE url = $1 FOR UPDATE`, record.URL)
		switch scanErr := row.Scan(&prevPrice); {
		case errors.Is(scanErr, pgx.ErrNoRows):
			hadPrev = false
		case scanErr != nil:
			return fmt.Errorf("failed to read previous price: %w", scanErr)
		default:
			hadPrev = true
		}

		var productID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO products (site, url, title, brand, sku, image_url, currency, availability, last_price, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (url) DO UPDATE SET
				title = EXCLUDED.title,
				brand = EXCLUDED.brand,
				sku = EXCLUDED.sku,
				image_url = EXCLUDED.image_url,
				currency = EXCLUDED.currency,
				availability = EXCLUDED.availability,
				last_price = EXCLUDED.last_price,
				updated_at = EXCLUDED.updated_at
			RETURNING id`,
			record.Site, record.URL, record.Title, record.Brand, record.SKU, record.Image,
			record.Currency, record.Available.String(), record.Price, record.CapturedAt,
		).Scan(&productID); err != nil {
			return fmt.Errorf("failed to upsert product: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO price_points (product_id, price, currency, availability, captured_at)
			VALUES ($1, $2, $3, $4, $5)`,
			productID, record.Price, record.Currency, record.Available.String(), record.CapturedAt,
		); err != nil {
			return fmt.Errorf("failed to insert price point: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return prevPrice, hadPrev, nil
}

// PriceHistory returns the most recent price points for a product URL,
// newest first.
func (s *Store) PriceHistory(ctx context.Context, url string, limit int) ([]models.PricePoint, error) {
	start := time.Now()
	defer s.observe(start)

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT pp.price, pp.currency, pp.availability, pp.captured_at
		FROM price_points pp
		JOIN products p ON p.id = pp.product_id
		WHERE p.url = $1
		ORDER BY pp.captured_at DESC
		LIMIT $2`, url, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var pt models.PricePoint
		var availability string
		if err := rows.Scan(&pt.Price, &pt.Currency, &availability, &pt.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		pt.Availability = availability
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}

	return points, nil
}

func (s *Store) observe(start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.DBQueryDuration.Observe(time.Since(start).Seconds())
	s.metrics.SetDBConnections(s.db.OpenConnections())
}
