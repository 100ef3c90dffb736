package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Inspector holds a direct database/sql connection to the Postgres behind
// the Supabase facade. PostgREST exposes tables but not
// information_schema, so live schema introspection for the admin surface
// needs its own connection.
type Inspector struct {
	db *sql.DB
}

// NewInspector connects to dbURL and verifies the connection with a ping.
func NewInspector(dbURL string) (*Inspector, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Inspector{db: db}, nil
}

// Close releases the underlying connection pool.
func (i *Inspector) Close() error {
	return i.db.Close()
}

// Schema introspects the public schema's tables, columns, and primary
// keys from information_schema, in declaration order.
func (i *Inspector) Schema(ctx context.Context) ([]TableSchema, error) {
	const columnQuery = `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`

	rows, err := i.db.QueryContext(ctx, columnQuery)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var order []string
	columns := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if _, seen := columns[table]; !seen {
			order = append(order, table)
		}
		columns[table] = append(columns[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	const pkQuery = `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = 'public'`

	pkRows, err := i.db.QueryContext(ctx, pkQuery)
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %w", err)
	}
	defer pkRows.Close()

	primaryKeys := make(map[string]string)
	for pkRows.Next() {
		var table, column string
		if err := pkRows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan primary key row: %w", err)
		}
		if _, seen := primaryKeys[table]; !seen {
			primaryKeys[table] = column
		}
	}
	if err := pkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key rows: %w", err)
	}

	schema := make([]TableSchema, 0, len(order))
	for _, table := range order {
		schema = append(schema, TableSchema{
			Table:      table,
			PrimaryKey: primaryKeys[table],
			Columns:    columns[table],
		})
	}
	return schema, nil
}

// Stats counts rows per public table.
func (i *Inspector) Stats(ctx context.Context) (map[string]int, error) {
	schema, err := i.Schema(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int, len(schema))
	for _, t := range schema {
		var count int
		query := fmt.Sprintf(`SELECT count(*) FROM %q`, t.Table)
		if err := i.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", t.Table, err)
		}
		stats[t.Table] = count
	}
	return stats, nil
}
