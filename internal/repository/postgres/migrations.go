package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all schema migrations. Order here does not matter; they are
// applied by ascending semantic version.
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
	{Version: "1.1.0", Up: migrationV110Up},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS delivery_tiers (
    location_id TEXT PRIMARY KEY,
    tier        INTEGER NOT NULL CHECK (tier > 0),
    price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
    label       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id     TEXT PRIMARY KEY,
    name   TEXT NOT NULL,
    price  NUMERIC(12,2) NOT NULL CHECK (price >= 0),
    stock  INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS product_variants (
    id         TEXT PRIMARY KEY,
    product_id TEXT NOT NULL REFERENCES products(id),
    name       TEXT NOT NULL,
    price      NUMERIC(12,2) NOT NULL CHECK (price >= 0),
    stock      INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
    active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS promo_codes (
    code            TEXT PRIMARY KEY,
    discount_type   TEXT NOT NULL CHECK (discount_type IN ('PERCENTAGE', 'FIXED')),
    discount_value  NUMERIC(12,2) NOT NULL CHECK (discount_value >= 0),
    valid_from      TIMESTAMPTZ,
    valid_until     TIMESTAMPTZ,
    usage_limit     INTEGER NOT NULL DEFAULT 0 CHECK (usage_limit >= 0),
    usage_count     INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
    min_order_value NUMERIC(12,2) NOT NULL DEFAULT 0,
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    CHECK (usage_limit = 0 OR usage_count <= usage_limit)
);

CREATE TABLE IF NOT EXISTS orders (
    id              UUID PRIMARY KEY,
    order_number    TEXT NOT NULL,
    customer_id     TEXT NOT NULL DEFAULT '',
    guest_email     TEXT NOT NULL DEFAULT '',
    customer_name   TEXT NOT NULL DEFAULT '',
    customer_phone  TEXT NOT NULL DEFAULT '',
    location_id     TEXT NOT NULL REFERENCES delivery_tiers(location_id),
    delivery_tier   INTEGER NOT NULL,
    subtotal        NUMERIC(12,2) NOT NULL,
    discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    shipping_cost   NUMERIC(12,2) NOT NULL DEFAULT 0,
    total           NUMERIC(12,2) NOT NULL,
    promo_code      TEXT,
    payment_method  TEXT NOT NULL,
    status          TEXT NOT NULL,
    payment_status  TEXT NOT NULL,
    tracking_number TEXT,
    review_required BOOLEAN NOT NULL DEFAULT FALSE,
    review_reason   TEXT NOT NULL DEFAULT '',
    cancel_reason   TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    confirmed_at    TIMESTAMPTZ,
    cancelled_at    TIMESTAMPTZ,
    CONSTRAINT orders_order_number_key UNIQUE (order_number),
    CONSTRAINT orders_tracking_number_key UNIQUE (tracking_number),
    CONSTRAINT orders_total_check CHECK (total = subtotal - discount_amount + shipping_cost),
    CONSTRAINT orders_discount_check CHECK (discount_amount >= 0 AND discount_amount <= subtotal)
);

CREATE TABLE IF NOT EXISTS order_items (
    order_id   UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    product_id TEXT NOT NULL,
    variant_id TEXT NOT NULL DEFAULT '',
    name       TEXT NOT NULL,
    quantity   INTEGER NOT NULL CHECK (quantity > 0),
    unit_price NUMERIC(12,2) NOT NULL,
    line_total NUMERIC(12,2) NOT NULL,
    PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS payment_transactions (
    id                  UUID PRIMARY KEY,
    order_id            UUID NOT NULL REFERENCES orders(id),
    provider            TEXT NOT NULL,
    amount              NUMERIC(12,2) NOT NULL CHECK (amount > 0),
    phone_number        TEXT NOT NULL,
    status              TEXT NOT NULL,
    merchant_request_id TEXT,
    checkout_request_id TEXT UNIQUE,
    result_code         TEXT NOT NULL DEFAULT '',
    result_description  TEXT NOT NULL DEFAULT '',
    receipt_number      TEXT,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    completed_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_payment_transactions_order ON payment_transactions(order_id, created_at);
`

// Partial indexes backing the single-COMPLETED rule and the stale-poll sweep.
const migrationV110Up = `
CREATE UNIQUE INDEX IF NOT EXISTS uq_payment_transactions_one_completed
    ON payment_transactions(order_id) WHERE status = 'COMPLETED';

CREATE INDEX IF NOT EXISTS idx_payment_transactions_initiated
    ON payment_transactions(created_at) WHERE status = 'INITIATED';

CREATE INDEX IF NOT EXISTS idx_orders_review
    ON orders(updated_at DESC) WHERE review_required;
`

// Migrate applies every migration newer than the recorded schema version.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	pending, err := sortMigrations(AllMigrations)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("migration %s: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	return tx.Commit()
}

// sortMigrations orders migrations by semantic version and rejects malformed or repeated versions.
func sortMigrations(in []Migration) ([]Migration, error) {
	type versioned struct {
		v *semver.Version
		m Migration
	}

	seen := make(map[string]bool, len(in))
	list := make([]versioned, 0, len(in))
	for _, m := range in {
		v, err := semver.StrictNewVersion(m.Version)
		if err != nil {
			return nil, fmt.Errorf("migration version %q: %w", m.Version, err)
		}
		if seen[v.String()] {
			return nil, fmt.Errorf("migration version %s declared twice", m.Version)
		}
		seen[v.String()] = true
		list = append(list, versioned{v: v, m: m})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].v.LessThan(list[j].v) })

	out := make([]Migration, len(list))
	for i, item := range list {
		out[i] = item.m
	}
	return out, nil
}
