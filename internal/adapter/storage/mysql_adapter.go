package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const recordColumns = `id, product_id, warehouse_location, quantity_on_hand, quantity_allocated,
	version, last_counted_at, created_at, updated_at`

const insertMovement = `
	INSERT INTO stock_movements
		(id, product_id, warehouse_location, movement_type, quantity, reference_id, actor, note, created_at)
	VALUES
		(:id, :product_id, :warehouse_location, :movement_type, :quantity, :reference_id, :actor, :note, :created_at)`

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) GetRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	err := m.db.GetContext(ctx, &rec, `
		SELECT `+recordColumns+`
		FROM stock_records WHERE product_id = ? AND warehouse_location = ?`,
		key.ProductID, key.Warehouse,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock record: %w", err)
	}
	return &rec, nil
}

// CompareAndSwap updates the record and appends the movement in one
// transaction. Zero affected rows means the version moved or the row is gone;
// a probe inside the same transaction tells the two apart.
func (m *MySQLAdapter) CompareAndSwap(ctx context.Context, expectedVersion int64, next domain.StockRecord, movement domain.StockMovement) (port.CASResult, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity_on_hand = ?, quantity_allocated = ?, last_counted_at = ?,
			version = version + 1, updated_at = NOW(6)
		WHERE product_id = ? AND warehouse_location = ? AND version = ?`,
		next.QuantityOnHand, next.QuantityAllocated, next.LastCountedAt,
		next.ProductID, next.WarehouseLocation, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update stock record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var count int
		if err := tx.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM stock_records WHERE product_id = ? AND warehouse_location = ?`,
			next.ProductID, next.WarehouseLocation,
		); err != nil {
			return 0, fmt.Errorf("probe stock record: %w", err)
		}
		if count == 0 {
			return port.CASNotFound, nil
		}
		return port.CASConflict, nil
	}

	if _, err := tx.NamedExecContext(ctx, insertMovement, movement); err != nil {
		return 0, fmt.Errorf("insert movement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return port.CASApplied, nil
}

// ProvisionRecord creates an empty ledger row for key. It returns false when
// the row already exists. Stock is then brought in through Adjust so the
// change is audited.
func (m *MySQLAdapter) ProvisionRecord(ctx context.Context, key domain.StockKey) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO stock_records
			(product_id, warehouse_location, quantity_on_hand, quantity_allocated, version)
		VALUES (?, ?, 0, 0, 0)`,
		key.ProductID, key.Warehouse,
	)
	if err != nil {
		return false, fmt.Errorf("insert stock record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// AppendMovement records a movement written by another component, such as
// inbound receipts or sales, so analytics see it.
func (m *MySQLAdapter) AppendMovement(ctx context.Context, movement domain.StockMovement) error {
	if _, err := m.db.NamedExecContext(ctx, insertMovement, movement); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}
