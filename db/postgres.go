package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vykuang/mh-flight-logs/config"
)

// postgresDSN builds a connection URL from the store configuration.
func postgresDSN(cfg config.StoreConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host + ":" + cfg.Port,
		Path:   "/" + cfg.DBName,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// openPostgres opens a PostgreSQL connection through the pgx database/sql driver.
func openPostgres(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	db, err := sql.Open(postgresDialect{}.driverName(), postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return db, nil
}
