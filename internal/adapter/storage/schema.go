package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// products, orders and order_items belong to the catalog and order services.
// They are created here only so a fresh database can run the ledger.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS stock_records (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL,
		warehouse_location VARCHAR(64) NOT NULL DEFAULT 'MAIN',
		quantity_on_hand INT NOT NULL DEFAULT 0,
		quantity_allocated INT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		last_counted_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_stock_product_warehouse (product_id, warehouse_location),
		CONSTRAINT chk_stock_on_hand CHECK (quantity_on_hand >= 0),
		CONSTRAINT chk_stock_allocated CHECK (quantity_allocated >= 0 AND quantity_allocated <= quantity_on_hand)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id CHAR(36) NOT NULL PRIMARY KEY,
		seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
		product_id VARCHAR(64) NOT NULL,
		warehouse_location VARCHAR(64) NOT NULL,
		movement_type VARCHAR(32) NOT NULL,
		quantity INT NOT NULL,
		reference_id VARCHAR(64) NOT NULL DEFAULT '',
		actor VARCHAR(64) NOT NULL DEFAULT '',
		note VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		published_at DATETIME(6) NULL,
		KEY idx_movements_product (product_id, warehouse_location, created_at),
		KEY idx_movements_unpublished (published_at, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		sku VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		reorder_level INT NULL,
		reorder_quantity INT NULL,
		cost_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		selling_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		PRIMARY KEY (order_id, product_id)
	)`,
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
