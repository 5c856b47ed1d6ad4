package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokopos/promo-engine/internal/domain/promo"
)

const hasAvailableSQL = `SELECT stock >= $2 FROM products WHERE id = $1`

var _ promo.StockAvailability = (*StockRepository)(nil)

// StockRepository implements promo.StockAvailability over the catalog's
// stock column. An unknown product reports no availability rather than an
// error: a rule gated on stock simply does not apply.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository that uses the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

// HasAvailable reports whether at least quantity units of the product are in stock.
func (r *StockRepository) HasAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	rows, err := r.pool.Query(ctx, hasAvailableSQL, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("checking stock for product %q: %w", productID, err)
	}

	ok, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking stock for product %q: %w", productID, err)
	}
	return ok, nil
}
