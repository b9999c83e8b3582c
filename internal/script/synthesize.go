package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/schemaops/recomp/internal/analyzer"
	"github.com/schemaops/recomp/internal/catalog"
	"github.com/schemaops/recomp/internal/config"
)

// Options controls plan synthesis for one table.
type Options struct {
	SourceSchema string
	TargetSchema string
	// Force builds a plan even when every recommendation is raw.
	Force bool
	// DropOld drops the original table instead of renaming it aside.
	DropOld bool
}

// Plan is one atomic migration unit for a table. It is either executed in
// full inside one transaction or only emitted as text.
type Plan struct {
	Table        string
	TargetSchema string
	TargetTable  string
	Statements   []Statement
}

// Synthesize merges catalog metadata with the analyzer's recommendations
// into a migration plan. It returns a nil plan (and nil error) when no
// column has a non-raw recommendation and force mode is off: the table is
// already optimally encoded and is skipped.
func Synthesize(cols []catalog.Column, recs []analyzer.Recommendation, table string, opts Options) (*Plan, error) {
	recommended := make(map[string]string, len(recs))
	triggered := opts.Force
	for _, r := range recs {
		recommended[r.Column] = r.Encoding
		if r.Encoding != analyzer.RawEncoding {
			triggered = true
		}
	}

	if !triggered {
		return nil, nil
	}

	type sortKey struct {
		position int // absolute ordinal, used as given
		column   string
	}

	var (
		defs        []ColumnDef
		sortKeys    []sortKey
		interleaved bool
	)

	for _, c := range cols {
		pos := c.SortKey
		if pos < 0 {
			pos = -pos
			interleaved = true
		}
		if c.SortKey != 0 {
			sortKeys = append(sortKeys, sortKey{position: pos, column: c.Name})
		}

		// The primary sort key stays raw so zone maps remain effective.
		encoding := analyzer.RawEncoding
		if pos != 1 {
			rec, ok := recommended[c.Name]
			if !ok {
				return nil, fmt.Errorf("no encoding recommendation for column %s of table %s", c.Name, table)
			}
			encoding = rec
		}

		defs = append(defs, ColumnDef{
			Name:     c.Name,
			Type:     normalizeType(c.Type),
			Encoding: encoding,
			NotNull:  c.NotNull,
			DistKey:  c.DistKey,
		})
	}

	sort.SliceStable(sortKeys, func(i, j int) bool {
		return sortKeys[i].position < sortKeys[j].position
	})
	keyColumns := make([]string, len(sortKeys))
	for i, k := range sortKeys {
		keyColumns[i] = k.column
	}

	// The staging table only needs a distinct name when it lives alongside
	// the original.
	sameSchema := opts.TargetSchema == opts.SourceSchema
	targetTable := table
	if sameSchema {
		targetTable = table + config.StagingSuffix
	}

	plan := &Plan{
		Table:        table,
		TargetSchema: opts.TargetSchema,
		TargetTable:  targetTable,
	}

	plan.Statements = append(plan.Statements,
		CreateTable{
			SourceTable: table,
			Schema:      opts.TargetSchema,
			Table:       targetTable,
			Columns:     defs,
			SortKeys:    keyColumns,
			Interleaved: interleaved,
		},
		Insert{
			SourceSchema: opts.SourceSchema,
			SourceTable:  table,
			TargetSchema: opts.TargetSchema,
			TargetTable:  targetTable,
		},
		Analyze{
			Schema: opts.TargetSchema,
			Table:  targetTable,
		},
	)

	if sameSchema {
		old := RenameOrDrop{Schema: opts.TargetSchema, Table: table, Drop: opts.DropOld}
		if !opts.DropOld {
			old.NewName = table + config.BackupSuffix
		}
		plan.Statements = append(plan.Statements,
			old,
			RenameOrDrop{Schema: opts.TargetSchema, Table: targetTable, NewName: table},
		)
	}

	plan.Statements = append(plan.Statements, Commit{})

	return plan, nil
}

// normalizeType canonicalizes verbose catalog type spellings to the engine's
// compact aliases.
func normalizeType(t string) string {
	t = strings.ReplaceAll(t, "character varying", "varchar")
	t = strings.ReplaceAll(t, "without time zone", "")
	return strings.TrimSpace(t)
}
