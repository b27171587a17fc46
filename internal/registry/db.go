// Package registry is the Endpoint Registry: persistent Agent/Endpoint/
// RoutingKey/GlobalSetting/Pairwise/Backup storage backed by Postgres,
// with the KV Cache layered in front of every read path.
package registry

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenDB opens the Postgres connection pool used by the registry.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: ping postgres: %w", err)
	}
	return db, nil
}
