package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors pkg/migrate/migrations for local sqlite runs and tests.
// Constraint names are kept in the UNIQUE column lists so IsUniqueViolation
// can match either dialect.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS shops (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  commission_rate TEXT NOT NULL DEFAULT '10.00',
  minimum_payout_minor INTEGER NOT NULL DEFAULT 0,
  payout_currency TEXT NOT NULL DEFAULT 'USD',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS shop_categories (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  commission_rate_override TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS shop_category_assignments (
  shop_id TEXT NOT NULL REFERENCES shops(id),
  shop_category_id TEXT NOT NULL REFERENCES shop_categories(id),
  created_at DATETIME,
  PRIMARY KEY (shop_id, shop_category_id)
);`,
	`CREATE TABLE IF NOT EXISTS categories (
  id TEXT PRIMARY KEY,
  parent_id TEXT REFERENCES categories(id),
  name TEXT NOT NULL,
  commission_rate_override TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL REFERENCES shops(id),
  category_id TEXT NOT NULL REFERENCES categories(id),
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS product_variants (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL REFERENCES products(id),
  sku TEXT NOT NULL UNIQUE,
  price_minor INTEGER NOT NULL CHECK (price_minor >= 0),
  currency TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  currency TEXT NOT NULL,
  subtotal_minor INTEGER NOT NULL DEFAULT 0,
  tax_minor INTEGER NOT NULL DEFAULT 0,
  shipping_minor INTEGER NOT NULL DEFAULT 0,
  discount_minor INTEGER NOT NULL DEFAULT 0,
  total_minor INTEGER NOT NULL DEFAULT 0,
  coupon_id TEXT,
  discount_sources TEXT,
  notes TEXT,
  confirmed_at DATETIME,
  shipped_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  failed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (total_minor = subtotal_minor + tax_minor + shipping_minor - discount_minor AND total_minor >= 0)
);`,
	`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  product_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  shop_id TEXT NOT NULL,
  category_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  unit_price_minor INTEGER NOT NULL,
  total_price_minor INTEGER NOT NULL,
  commission_rate TEXT NOT NULL,
  commission_amount_minor INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  shipped_at DATETIME,
  delivered_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_addresses (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  address_type TEXT NOT NULL,
  recipient TEXT NOT NULL,
  line1 TEXT NOT NULL,
  line2 TEXT,
  city TEXT NOT NULL,
  state TEXT,
  postal_code TEXT NOT NULL,
  country TEXT NOT NULL,
  phone TEXT,
  created_at DATETIME,
  UNIQUE (order_id, address_type)
);`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  from_status TEXT,
  to_status TEXT NOT NULL,
  changed_by TEXT NOT NULL,
  note TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS coupons (
  id TEXT PRIMARY KEY,
  shop_id TEXT,
  coupon_code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  discount_type TEXT NOT NULL,
  discount_value TEXT NOT NULL DEFAULT '0',
  minimum_order_amount TEXT NOT NULL DEFAULT '0',
  maximum_discount_amount TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  starts_at DATETIME NOT NULL,
  expires_at DATETIME,
  usage_limit INTEGER,
  usage_limit_per_customer INTEGER,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS coupon_usages (
  id TEXT PRIMARY KEY,
  coupon_id TEXT NOT NULL REFERENCES coupons(id),
  customer_id TEXT NOT NULL,
  order_id TEXT NOT NULL REFERENCES orders(id),
  discount_amount_minor INTEGER NOT NULL,
  currency TEXT NOT NULL,
  used_at DATETIME NOT NULL,
  UNIQUE (coupon_id, order_id)
);`,
	`CREATE TABLE IF NOT EXISTS discount_policies (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  name TEXT NOT NULL,
  policy_type TEXT NOT NULL,
  conditions TEXT NOT NULL DEFAULT '{}',
  discount TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  stackable INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  starts_at DATETIME,
  expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS discount_usage_daily (
  coupon_id TEXT NOT NULL REFERENCES coupons(id),
  usage_date TEXT NOT NULL,
  currency TEXT NOT NULL,
  redemptions INTEGER NOT NULL DEFAULT 0,
  discount_amount_minor INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME,
  PRIMARY KEY (coupon_id, usage_date)
);`,
	`CREATE TABLE IF NOT EXISTS payouts (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL REFERENCES shops(id),
  currency TEXT NOT NULL,
  payout_amount_minor INTEGER NOT NULL,
  gross_amount_minor INTEGER NOT NULL,
  adjustment_amount_minor INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  payout_method TEXT NOT NULL,
  reference_number TEXT,
  cutoff_at DATETIME NOT NULL,
  requested_at DATETIME NOT NULL,
  processed_at DATETIME,
  failed_at DATETIME,
  failure_reason TEXT,
  updated_at DATETIME,
  CHECK (payout_amount_minor >= 0 AND payout_amount_minor = gross_amount_minor + adjustment_amount_minor)
);`,
	`CREATE TABLE IF NOT EXISTS commissions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  order_item_id TEXT NOT NULL UNIQUE REFERENCES order_items(id),
  shop_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  commission_rate TEXT NOT NULL,
  gross_minor INTEGER NOT NULL,
  commission_minor INTEGER NOT NULL,
  platform_fee_minor INTEGER NOT NULL,
  net_minor INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payout_id TEXT REFERENCES payouts(id),
  dispute_reason TEXT,
  calculated_at DATETIME NOT NULL,
  cleared_at DATETIME,
  paid_out_at DATETIME,
  disputed_at DATETIME,
  refunded_at DATETIME,
  voided_at DATETIME,
  updated_at DATETIME,
  CHECK (net_minor = gross_minor - commission_minor - platform_fee_minor AND net_minor >= 0)
);`,
	`CREATE TABLE IF NOT EXISTS payout_transactions (
  id TEXT PRIMARY KEY,
  payout_id TEXT NOT NULL REFERENCES payouts(id),
  commission_id TEXT NOT NULL REFERENCES commissions(id),
  amount_minor INTEGER NOT NULL,
  created_at DATETIME,
  UNIQUE (payout_id, commission_id)
);`,
	`CREATE TABLE IF NOT EXISTS order_refunds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  order_item_id TEXT,
  refund_amount_minor INTEGER NOT NULL CHECK (refund_amount_minor > 0),
  currency TEXT NOT NULL,
  reason TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  requested_by TEXT NOT NULL,
  processed_by TEXT,
  approved_at DATETIME,
  processed_at DATETIME,
  notes TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS commission_adjustments (
  id TEXT PRIMARY KEY,
  commission_id TEXT NOT NULL REFERENCES commissions(id),
  refund_id TEXT NOT NULL REFERENCES order_refunds(id),
  shop_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  amount_minor INTEGER NOT NULL CHECK (amount_minor <= 0),
  reason TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_offset',
  payout_id TEXT REFERENCES payouts(id),
  created_at DATETIME NOT NULL,
  offset_at DATETIME,
  UNIQUE (commission_id, refund_id)
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  last_attempt_at DATETIME
);`,
}

// ApplySQLiteSchema creates every table on a sqlite connection. It is a no-op
// for other dialects, which are migrated by goose.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if conn.Dialector.Name() != DriverSQLite {
		return nil
	}
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
