// Package chstore wraps the ClickHouse analytics database connection used
// by the market-cache warm protocol, the trade-ingestion sinks, and every
// QueryLayer endpoint.
package chstore

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"polydearboard/internal/config"
)

// DB wraps the driver connection with the schema prefix this service reads
// and writes under.
type DB struct {
	Conn   clickhouse.Conn
	Schema string
}

// Open dials the analytics database using the driver's native protocol.
func Open(cfg config.ClickHouseConfig) (*DB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.URL},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return &DB{Conn: conn, Schema: cfg.Database}, nil
}

// Ping verifies connectivity at startup.
func (d *DB) Ping(ctx context.Context) error {
	return d.Conn.Ping(ctx)
}

// Table returns a schema-qualified table name, e.g. "poly_dearboard.trades".
func (d *DB) Table(name string) string {
	return d.Schema + "." + name
}
