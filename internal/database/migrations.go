package database

import (
	"context"
	"fmt"
)

// schema is written in the subset of SQL shared by PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		credit_limit NUMERIC(12, 2),
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC(12, 2) NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		reorder_threshold INTEGER NOT NULL DEFAULT 0,
		auto_reorder BOOLEAN NOT NULL DEFAULT FALSE,
		reorder_quantity INTEGER NOT NULL DEFAULT 0,
		sales_count INTEGER NOT NULL DEFAULT 0,
		supplier_id VARCHAR(64),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS stock_movements (
		id VARCHAR(64) PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		movement_type VARCHAR(16) NOT NULL,
		quantity INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements(product_id)`,

	`CREATE TABLE IF NOT EXISTS couriers (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		user_id VARCHAR(64),
		photo TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL REFERENCES users(id),
		client_name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		governorate TEXT NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		total NUMERIC(12, 2) NOT NULL DEFAULT 0,
		courier_id VARCHAR(64),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,

	`CREATE TABLE IF NOT EXISTS order_lines (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id VARCHAR(64) NOT NULL,
		position INTEGER NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12, 2) NOT NULL,
		total NUMERIC(12, 2) NOT NULL,
		ttc NUMERIC(12, 2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines(order_id)`,

	`CREATE TABLE IF NOT EXISTS payment_transactions (
		id VARCHAR(64) PRIMARY KEY,
		amount NUMERIC(12, 2) NOT NULL,
		method TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		currency VARCHAR(8) NOT NULL DEFAULT 'usd',
		payment_intent_id TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS transaction_orders (
		transaction_id VARCHAR(64) NOT NULL REFERENCES payment_transactions(id) ON DELETE CASCADE,
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		PRIMARY KEY (transaction_id, order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transaction_orders_order ON transaction_orders(order_id)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id VARCHAR(64) PRIMARY KEY,
		number VARCHAR(128) NOT NULL UNIQUE,
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		transaction_id VARCHAR(64),
		user_id VARCHAR(64) NOT NULL,
		total NUMERIC(12, 2) NOT NULL,
		issued_on TIMESTAMP NOT NULL,
		document_path TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_order ON invoices(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_transaction ON invoices(transaction_id)`,

	`CREATE TABLE IF NOT EXISTS invoice_lines (
		id VARCHAR(64) PRIMARY KEY,
		invoice_id VARCHAR(64) NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		order_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		position INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price NUMERIC(12, 2) NOT NULL,
		total NUMERIC(12, 2) NOT NULL,
		ttc NUMERIC(12, 2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice ON invoice_lines(invoice_id)`,

	`CREATE TABLE IF NOT EXISTS deliveries (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		courier_id VARCHAR(64) NOT NULL REFERENCES couriers(id),
		status VARCHAR(16) NOT NULL,
		delivery_type VARCHAR(16) NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		current_lat DOUBLE PRECISION,
		current_lng DOUBLE PRECISION,
		dest_lat DOUBLE PRECISION,
		dest_lng DOUBLE PRECISION,
		distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		distance_source VARCHAR(16) NOT NULL DEFAULT '',
		carbon_footprint DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_order ON deliveries(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_courier ON deliveries(courier_id)`,

	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id VARCHAR(64) PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP,
		processing_attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id)`,

	`CREATE TABLE IF NOT EXISTS dead_letter_messages (
		id VARCHAR(64) PRIMARY KEY,
		original_message_id VARCHAR(64) NOT NULL,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry_at TIMESTAMP,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dead_letter_status ON dead_letter_messages(status)`,

	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id VARCHAR(64) PRIMARY KEY,
		event_type VARCHAR(50) NOT NULL,
		processed_at TIMESTAMP NOT NULL
	)`,
}

// RunMigrations creates the schema if it does not exist
func (d *Database) RunMigrations(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i, err)
		}
	}

	d.logger.Info("Database migrations completed successfully", "statements", len(schema))
	return nil
}
