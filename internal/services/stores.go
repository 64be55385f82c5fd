package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/pkg/models"
)

// DatabaseQuerier interface for database operations
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const vehicleColumns = `
	id, COALESCE(vin, ''), year, make, model, COALESCE(trim, ''),
	COALESCE(body_style, ''), COALESCE(drivetrain, ''), COALESCE(transmission, ''),
	COALESCE(fuel_type, ''), COALESCE(engine, ''), COALESCE(horsepower, 0),
	COALESCE(mpg_city, 0), COALESCE(mpg_highway, 0), COALESCE(features, '{}'),
	msrp, COALESCE(dealer_price, 0), COALESCE(city, ''), COALESCE(state, ''), status`

const userColumns = `
	id, first_name, last_name, COALESCE(age, 0), COALESCE(household_size, 0),
	COALESCE(avg_commute_miles, 0), COALESCE(city, ''), COALESCE(state, ''),
	COALESCE(body_styles, '{}'), COALESCE(drivetrains, '{}'), COALESCE(fuel_types, '{}'),
	COALESCE(feature_wishlist, '{}'), COALESCE(budget_min, 0), COALESCE(budget_max, 0),
	COALESCE(annual_income, 0), COALESCE(credit_score, 0)`

// PostgresCatalogStore reads vehicle inventory from PostgreSQL.
type PostgresCatalogStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostgresCatalogStore(db DatabaseQuerier, logger *logrus.Logger) *PostgresCatalogStore {
	return &PostgresCatalogStore{db: db, logger: logger}
}

// ListVehicles returns vehicles in insertion order. An empty status matches
// every vehicle and a zero limit means no limit.
func (s *PostgresCatalogStore) ListVehicles(ctx context.Context, filter models.VehicleFilter) ([]models.VehicleRecord, error) {
	query := `SELECT ` + vehicleColumns + `
		FROM vehicles
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, id
		LIMIT NULLIF($2, 0)`

	rows, err := s.db.Query(ctx, query, filter.Status, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := make([]models.VehicleRecord, 0)
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, vehicle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vehicles: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"status": filter.Status,
		"count":  len(vehicles),
	}).Debug("Loaded vehicles from catalog")

	return vehicles, nil
}

func (s *PostgresCatalogStore) GetVehicle(ctx context.Context, id string) (*models.VehicleRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)

	vehicle, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle %s: %w", id, err)
	}
	return &vehicle, nil
}

func scanVehicle(row pgx.Row) (models.VehicleRecord, error) {
	var v models.VehicleRecord
	err := row.Scan(
		&v.ID, &v.VIN, &v.Year, &v.Make, &v.Model, &v.Trim,
		&v.BodyStyle, &v.Drivetrain, &v.Transmission,
		&v.FuelType, &v.Engine, &v.Horsepower,
		&v.MPGCity, &v.MPGHighway, &v.Features,
		&v.MSRP, &v.DealerPrice, &v.Location.City, &v.Location.State, &v.Status,
	)
	return v, err
}

// PostgresUserStore reads shopper profiles from PostgreSQL.
type PostgresUserStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostgresUserStore(db DatabaseQuerier, logger *logrus.Logger) *PostgresUserStore {
	return &PostgresUserStore{db: db, logger: logger}
}

func (s *PostgresUserStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM user_profiles WHERE id = $1`, id)

	profile, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &profile, nil
}

func (s *PostgresUserStore) ListUsers(ctx context.Context) ([]models.UserProfile, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM user_profiles ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]models.UserProfile, 0)
	for rows.Next() {
		profile, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (models.UserProfile, error) {
	var u models.UserProfile
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Age, &u.HouseholdSize,
		&u.AvgCommuteMiles, &u.Location.City, &u.Location.State,
		&u.Preferences.BodyStyles, &u.Preferences.Drivetrains, &u.Preferences.FuelTypes,
		&u.Preferences.FeatureWishlist, &u.Budget.Min, &u.Budget.Max,
		&u.Financial.AnnualIncome, &u.Financial.CreditScore,
	)
	return u, err
}
