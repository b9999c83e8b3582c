// Package script synthesizes the migration plan for one table: an ordered
// sequence of SQL statements that rebuilds the table with recommended column
// encodings and atomically swaps it into place.
package script

import (
	"fmt"
	"strings"
)

// Statement is one step of a migration plan. Statements render to SQL only
// at the boundary so plans stay inspectable in tests.
type Statement interface {
	SQL() string
	// Comment returns an explanatory comment emitted before the statement,
	// or an empty string.
	Comment() string
}

// ColumnDef is one column specification of the staging table.
type ColumnDef struct {
	Name     string
	Type     string
	Encoding string
	NotNull  bool
	DistKey  bool
}

func (c ColumnDef) String() string {
	parts := []string{c.Name, c.Type}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	parts = append(parts, "encode", c.Encoding)
	if c.DistKey {
		parts = append(parts, "DISTKEY")
	}
	return strings.Join(parts, " ") + " "
}

// CreateTable creates the staging table with final encodings. It opens the
// transaction that the rest of the plan runs in.
type CreateTable struct {
	SourceTable string
	Schema      string
	Table       string
	Columns     []ColumnDef
	SortKeys    []string
	Interleaved bool
}

func (s CreateTable) Comment() string {
	return fmt.Sprintf("creating migration table for %s", s.SourceTable)
}

func (s CreateTable) SQL() string {
	var b strings.Builder
	b.WriteString("begin;\n\n")
	b.WriteString(fmt.Sprintf("create table %s.%s(", s.Schema, s.Table))

	defs := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		defs[i] = c.String()
	}
	b.WriteString(strings.Join(defs, ", "))
	b.WriteString(")")

	if len(s.SortKeys) > 0 {
		if s.Interleaved {
			b.WriteString(" INTERLEAVED")
		}
		b.WriteString(fmt.Sprintf(" SORTKEY(%s)", strings.Join(s.SortKeys, ",")))
	}

	b.WriteString(";")
	return b.String()
}

// Insert copies every row of the source table into the staging table,
// preserving content exactly.
type Insert struct {
	SourceSchema string
	SourceTable  string
	TargetSchema string
	TargetTable  string
}

func (s Insert) Comment() string {
	return "migrating data to new structure"
}

func (s Insert) SQL() string {
	return fmt.Sprintf("insert into %s.%s select * from %s.%s;",
		s.TargetSchema, s.TargetTable, s.SourceSchema, s.SourceTable)
}

// Analyze refreshes statistics on the staging table.
type Analyze struct {
	Schema string
	Table  string
}

func (s Analyze) Comment() string { return "" }

func (s Analyze) SQL() string {
	return fmt.Sprintf("analyze %s.%s;", s.Schema, s.Table)
}

// RenameOrDrop either renames a table (NewName set) or drops it (Drop set).
// A plan that created a staging table always carries the terminal swap so
// old and new tables are never both left live.
type RenameOrDrop struct {
	Schema  string
	Table   string
	NewName string
	Drop    bool
}

func (s RenameOrDrop) Comment() string { return "" }

func (s RenameOrDrop) SQL() string {
	if s.Drop {
		return fmt.Sprintf("drop table %s.%s;", s.Schema, s.Table)
	}
	return fmt.Sprintf("alter table %s.%s rename to %s;", s.Schema, s.Table, s.NewName)
}

// Commit terminates the plan's transaction. Always the final statement.
type Commit struct{}

func (s Commit) Comment() string { return "" }

func (s Commit) SQL() string { return "commit;" }
