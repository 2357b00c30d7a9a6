package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const movementColumns = `id, product_id, warehouse_location, movement_type, quantity,
	reference_id, actor, note, created_at, published_at`

func (m *MySQLAdapter) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.StockRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Warehouse != "" {
		where = append(where, "warehouse_location = ?")
		args = append(args, filter.Warehouse)
	}
	if len(filter.ProductIDs) > 0 {
		where = append(where, "product_id IN (?)")
		args = append(args, filter.ProductIDs)
	}

	query := `SELECT ` + recordColumns + ` FROM stock_records` + whereClause(where) +
		` ORDER BY warehouse_location, product_id`
	query, args, err := m.expand(query, args)
	if err != nil {
		return nil, err
	}

	records := []domain.StockRecord{}
	if err := m.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("query stock records: %w", err)
	}
	return records, nil
}

func (m *MySQLAdapter) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	where, args := movementWhere(filter)
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + whereClause(where) + ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	query, args, err := m.expand(query, args)
	if err != nil {
		return nil, err
	}

	movements := []domain.StockMovement{}
	if err := m.db.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	return movements, nil
}

func (m *MySQLAdapter) MovementTotals(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementTotal, error) {
	where, args := movementWhere(filter)
	query := `
		SELECT movement_type, COALESCE(SUM(ABS(quantity)), 0) AS quantity, COUNT(*) AS movements
		FROM stock_movements` + whereClause(where) + `
		GROUP BY movement_type`
	query, args, err := m.expand(query, args)
	if err != nil {
		return nil, err
	}

	totals := []domain.MovementTotal{}
	if err := m.db.SelectContext(ctx, &totals, query, args...); err != nil {
		return nil, fmt.Errorf("query movement totals: %w", err)
	}
	return totals, nil
}

func (m *MySQLAdapter) FetchUnpublished(ctx context.Context, limit int) ([]domain.StockMovement, error) {
	movements := []domain.StockMovement{}
	err := m.db.SelectContext(ctx, &movements, `
		SELECT `+movementColumns+`
		FROM stock_movements WHERE published_at IS NULL
		ORDER BY seq LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unpublished movements: %w", err)
	}
	return movements, nil
}

func (m *MySQLAdapter) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := m.expand(`UPDATE stock_movements SET published_at = ? WHERE id IN (?)`, []interface{}{at, ids})
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark movements published: %w", err)
	}
	return nil
}

// expand rewrites slice arguments into IN lists.
func (m *MySQLAdapter) expand(query string, args []interface{}) (string, []interface{}, error) {
	if len(args) == 0 {
		return query, args, nil
	}
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand query: %w", err)
	}
	return m.db.Rebind(query), args, nil
}

func movementWhere(filter domain.MovementFilter) ([]string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.Warehouse != "" {
		where = append(where, "warehouse_location = ?")
		args = append(args, filter.Warehouse)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, "movement_type IN (?)")
		args = append(args, types)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.To)
	}
	return where, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
