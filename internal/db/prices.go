package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// CurrentPrice returns the newest price version of a service.
func (db *DB) CurrentPrice(ctx context.Context, service types.Service) (int, error) {
	var price int
	err := db.pool.QueryRow(ctx,
		`SELECT price FROM service_prices WHERE service = $1 ORDER BY version DESC LIMIT 1`,
		string(service),
	).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("price for %s: %w", service, verify.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get price: %w", err)
	}
	return price, nil
}

// SetPrice records a new price version. Earlier versions are kept.
func (db *DB) SetPrice(ctx context.Context, service types.Service, price int) (*types.Price, error) {
	if !service.Valid() {
		return nil, fmt.Errorf("unknown service %q: %w", service, verify.ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("price must be positive: %w", verify.ErrInvalidInput)
	}
	p := types.Price{Service: service, Amount: price}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO service_prices (service, price, version)
		 SELECT $1, $2, COALESCE(MAX(version), 0) + 1 FROM service_prices WHERE service = $1
		 RETURNING version, created_at`,
		string(service), price,
	).Scan(&p.Version, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to set price: %w", err)
	}
	return &p, nil
}

// ListPrices returns the current version of every priced service.
func (db *DB) ListPrices(ctx context.Context) ([]types.Price, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (service) service, price, version, created_at
		 FROM service_prices ORDER BY service, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	var prices []types.Price
	for rows.Next() {
		var p types.Price
		var service string
		if err := rows.Scan(&service, &p.Amount, &p.Version, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		p.Service = types.Service(service)
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// SeedPrices inserts version 1 for every service that has no price yet.
func (db *DB) SeedPrices(ctx context.Context, seed map[types.Service]int) error {
	for service, price := range seed {
		if price <= 0 {
			continue
		}
		_, err := db.pool.Exec(ctx,
			`INSERT INTO service_prices (service, price, version)
			 SELECT $1, $2, 1
			 WHERE NOT EXISTS (SELECT 1 FROM service_prices WHERE service = $1)`,
			string(service), price,
		)
		if err != nil {
			return fmt.Errorf("failed to seed price %s: %w", service, err)
		}
	}
	return nil
}
