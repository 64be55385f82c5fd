package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used to apply DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id            TEXT PRIMARY KEY,
		vin           TEXT,
		year          INTEGER NOT NULL DEFAULT 0,
		make          TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		trim          TEXT,
		body_style    TEXT,
		drivetrain    TEXT,
		transmission  TEXT,
		fuel_type     TEXT,
		engine        TEXT,
		horsepower    INTEGER,
		mpg_city      INTEGER,
		mpg_highway   INTEGER,
		features      TEXT[],
		msrp          DOUBLE PRECISION NOT NULL DEFAULT 0,
		dealer_price  DOUBLE PRECISION,
		city          TEXT,
		state         TEXT,
		status        TEXT NOT NULL DEFAULT 'In Stock',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_status ON vehicles (status)`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		id                TEXT PRIMARY KEY,
		first_name        TEXT NOT NULL DEFAULT '',
		last_name         TEXT NOT NULL DEFAULT '',
		age               INTEGER,
		household_size    INTEGER,
		avg_commute_miles DOUBLE PRECISION,
		city              TEXT,
		state             TEXT,
		body_styles       TEXT[],
		drivetrains       TEXT[],
		fuel_types        TEXT[],
		feature_wishlist  TEXT[],
		budget_min        DOUBLE PRECISION,
		budget_max        DOUBLE PRECISION,
		annual_income     DOUBLE PRECISION,
		credit_score      INTEGER,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_profiles_name ON user_profiles (lower(first_name || ' ' || last_name))`,
}

// Migrate creates the vehicle and user profile tables when missing.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
