package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestDescribe(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`from pg_table_def`).
		WithArgs("public", "events").
		WillReturnRows(sqlmock.NewRows([]string{"column", "type", "encoding", "distkey", "sortkey", "notnull"}).
			AddRow("id", "integer", "none", true, 1, true).
			AddRow("ts", "timestamp without time zone", "none", false, -2, false).
			AddRow("payload", "character varying(256)", "lzo", false, 0, false))

	cols, err := Describe(context.Background(), db, "public", "events")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}

	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}

	id := cols[0]
	if id.Name != "id" || !id.DistKey || id.SortKey != 1 || !id.NotNull {
		t.Errorf("unexpected id column: %+v", id)
	}

	ts := cols[1]
	if ts.SortKey != -2 {
		t.Errorf("expected interleaved sort position -2, got %d", ts.SortKey)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDescribeNoMetadata(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`from pg_table_def`).
		WithArgs("public", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column", "type", "encoding", "distkey", "sortkey", "notnull"}))

	_, err = Describe(context.Background(), db, "public", "ghost")
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Errorf("expected ErrCatalogUnavailable, got %v", err)
	}
}

func TestDescribeQueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`from pg_table_def`).
		WithArgs("public", "events").
		WillReturnError(errors.New("permission denied"))

	_, err = Describe(context.Background(), db, "public", "events")
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Errorf("expected ErrCatalogUnavailable, got %v", err)
	}
}
