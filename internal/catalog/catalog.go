// Package catalog reads per-column table metadata from the engine's table
// definition catalog (pg_table_def).
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrCatalogUnavailable indicates the catalog query failed or returned no
// metadata for the table. Fatal to that table only; catalog reads are fast
// and idempotent, so there is no retry.
var ErrCatalogUnavailable = errors.New("table definition catalog unavailable")

// Column describes one column of a table as recorded in the catalog.
// Immutable once read for an analysis pass.
type Column struct {
	Name     string
	Type     string
	Encoding string
	DistKey  bool
	// SortKey is the signed sort key position: 0 means not a sort key, the
	// magnitude is the ordinal position, and a negative value marks
	// participation in an interleaved sort.
	SortKey int
	NotNull bool
}

// querier is the narrow session surface the reader needs.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const describeQuery = `select "column", type, encoding, distkey, sortkey, "notnull"
from pg_table_def
where schemaname = $1
  and tablename = $2`

// Describe returns the column metadata for one table in the analysis schema,
// in catalog (attribute) order.
func Describe(ctx context.Context, q querier, schema, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, describeQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("%w: describing %s.%s: %v", ErrCatalogUnavailable, schema, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Encoding, &c.DistKey, &c.SortKey, &c.NotNull); err != nil {
			return nil, fmt.Errorf("%w: scanning column of %s.%s: %v", ErrCatalogUnavailable, schema, table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading columns of %s.%s: %v", ErrCatalogUnavailable, schema, table, err)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no metadata for %s.%s", ErrCatalogUnavailable, schema, table)
	}

	return cols, nil
}
