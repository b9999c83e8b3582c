// Package selector enumerates candidate tables for an analysis run from the
// engine's block and permanent-table system views.
package selector

import (
	"context"
	"database/sql"
	"fmt"
)

// Candidate is one table eligible for encoding analysis.
type Candidate struct {
	Name   string
	MBytes int64
	Rows   int64
}

// querier is the narrow session surface the selector needs.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tables already produced by a prior run are excluded by their staging and
// backup suffixes. Candidates come back in ascending size so small tables
// finish early and spread across workers.
const schemaQuery = `select trim(a.name) as table, b.mbytes, a.rows
from (select db_id, id, name, sum(rows) as rows from stv_tbl_perm a group by db_id, id, name) as a
join pg_class as pgc on pgc.oid = a.id
join pg_namespace as pgn on pgn.oid = pgc.relnamespace
join (select tbl, count(*) as mbytes from stv_blocklist group by tbl) b on a.id = b.tbl
where pgn.nspname = $1
  and trim(a.name) not like '%_$old'
  and trim(a.name) not like '%_$mig'
order by 2`

const tableQuery = `select trim(a.name) as table, b.mbytes, a.rows
from (select db_id, id, name, sum(rows) as rows from stv_tbl_perm a group by db_id, id, name) as a
join pg_class as pgc on pgc.oid = a.id
join (select tbl, count(*) as mbytes from stv_blocklist group by tbl) b on a.id = b.tbl
and pgc.relname = $1`

// Schema returns every candidate table in a schema.
func Schema(ctx context.Context, q querier, schema string) ([]Candidate, error) {
	return query(ctx, q, schemaQuery, schema)
}

// Table returns the candidate entry for one named table.
func Table(ctx context.Context, q querier, table string) ([]Candidate, error) {
	return query(ctx, q, tableQuery, table)
}

func query(ctx context.Context, q querier, stmt, arg string) ([]Candidate, error) {
	rows, err := q.QueryContext(ctx, stmt, arg)
	if err != nil {
		return nil, fmt.Errorf("listing candidate tables: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.Name, &c.MBytes, &c.Rows); err != nil {
			return nil, fmt.Errorf("scanning candidate table: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading candidate tables: %w", err)
	}

	return candidates, nil
}
