package taxrules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Repository is the read-only region -> tax rate table.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// each new connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{
		MigrationsTable: "tax_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Lookup(ctx context.Context, region string) (domain.TaxRate, bool, error) {
	query := `SELECT region_code, name, percent FROM tax_rules WHERE region_code = ?`

	var (
		rate    domain.TaxRate
		percent string
	)
	err := r.db.QueryRowContext(ctx, query, strings.ToUpper(region)).Scan(&rate.Region, &rate.Name, &percent)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaxRate{}, false, nil
	}
	if err != nil {
		return domain.TaxRate{}, false, fmt.Errorf("query tax rule: %w", err)
	}

	rate.Percent, err = decimal.NewFromString(percent)
	if err != nil {
		return domain.TaxRate{}, false, fmt.Errorf("parse tax percent %q: %w", percent, err)
	}
	return rate, true, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.TaxRate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT region_code, name, percent FROM tax_rules ORDER BY region_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tax rules: %w", err)
	}
	defer rows.Close()

	var rates []domain.TaxRate
	for rows.Next() {
		var (
			rate    domain.TaxRate
			percent string
		)
		if err := rows.Scan(&rate.Region, &rate.Name, &percent); err != nil {
			return nil, fmt.Errorf("failed to scan tax rule: %w", err)
		}
		if rate.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, fmt.Errorf("parse tax percent %q: %w", percent, err)
		}
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return rates, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
