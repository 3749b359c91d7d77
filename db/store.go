// Package db persists normalized flight records with an idempotent upsert
// keyed on the natural flight key, and answers the delay queries the daily
// report is built from.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/normalize"
)

const (
	docColumn      = "doc"
	ingestedColumn = "ingested_at"
)

// SchemaError reports a table definition the store cannot work with.
type SchemaError struct {
	Table   string
	Missing []string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("db: table %s: schema lacks primary key fields %s", e.Table, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("db: table %s: %s", e.Table, e.Reason)
}

// Store is a flight record table in sqlite or PostgreSQL.
//
// The document layout keeps each record as JSON next to its key columns.
// The columns layout stores one TEXT column per flattened field and grows
// the table as new fields appear upstream.
type Store struct {
	db      *sql.DB
	dialect dialect
	table   string
	layout  string
	sep     string
	keys    []string

	mu sync.Mutex
	// columns caches the data columns of a columns-layout table, in table order.
	columns []string
}

// Open connects to the configured database. The table itself is created
// by EnsureTable.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if !config.ValidTableName(cfg.Table) {
		return nil, &SchemaError{Table: cfg.Table, Reason: "invalid table name"}
	}

	var (
		d    dialect
		conn *sql.DB
		err  error
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		d = sqliteDialect{}
		conn, err = openSQLite(ctx, cfg.Path)
	case config.DriverPostgres:
		d = postgresDialect{}
		conn, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return newStore(conn, d, cfg), nil
}

func newStore(conn *sql.DB, d dialect, cfg config.StoreConfig) *Store {
	layout := cfg.Layout
	if layout == "" {
		layout = config.LayoutDocument
	}
	sep := cfg.Separator
	if sep == "" {
		sep = normalize.DefaultSeparator
	}
	return &Store{
		db:      conn,
		dialect: d,
		table:   cfg.Table,
		layout:  layout,
		sep:     sep,
		keys:    normalize.KeyFields(sep),
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table returns the table name.
func (s *Store) Table() string {
	return s.table
}

// EnsureTable creates the table if needed. In the columns layout schema
// must contain every primary key field, and columns for fields not yet in
// the table are added. The document layout ignores schema.
func (s *Store) EnsureTable(ctx context.Context, schema []string) error {
	if s.layout == config.LayoutColumns {
		return s.ensureColumnsTable(ctx, schema)
	}
	return s.ensureDocumentTable(ctx)
}

func (s *Store) ensureDocumentTable(ctx context.Context) error {
	existing, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if !slices.Contains(existing, docColumn) {
			return &SchemaError{Table: s.table, Reason: "existing table has no doc column, it was created with the columns layout"}
		}
		return nil
	}

	defs := make([]string, 0, len(s.keys)+3)
	for _, k := range s.keys {
		defs = append(defs, s.dialect.quote(k)+" TEXT NOT NULL")
	}
	defs = append(defs,
		s.dialect.quote(docColumn)+" "+s.dialect.docType()+" NOT NULL",
		s.dialect.quote(ingestedColumn)+" "+s.dialect.timestampType()+" NOT NULL",
	)
	if seq := s.dialect.seqDDL(); seq != "" {
		defs = append(defs, seq)
	}
	defs = append(defs, "PRIMARY KEY ("+s.quoteAll(s.keys)+")")

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.dialect.quote(s.table), strings.Join(defs, ",\n\t"))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("db: create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) ensureColumnsTable(ctx context.Context, schema []string) error {
	var missing []string
	for _, k := range s.keys {
		if !slices.Contains(schema, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Table: s.table, Missing: missing}
	}
	for _, col := range schema {
		if col == "" || strings.EqualFold(col, "rowid") || col == seqColumnName {
			return &SchemaError{Table: s.table, Reason: fmt.Sprintf("reserved or empty column name %q", col)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	defer tx.Rollback()

	if len(existing) == 0 {
		defs := make([]string, 0, len(schema)+2)
		for _, col := range schema {
			defs = append(defs, s.dialect.quote(col)+" TEXT")
		}
		if seq := s.dialect.seqDDL(); seq != "" {
			defs = append(defs, seq)
		}
		defs = append(defs, "PRIMARY KEY ("+s.quoteAll(s.keys)+")")

		ddl := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", s.dialect.quote(s.table), strings.Join(defs, ",\n\t"))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("db: create table %s: %w", s.table, err)
		}
		existing = slices.Clone(schema)
	} else {
		if slices.Contains(existing, docColumn) && slices.Contains(existing, ingestedColumn) && !slices.Contains(schema, docColumn) {
			return &SchemaError{Table: s.table, Reason: "existing table was created with the document layout"}
		}
		for _, k := range s.keys {
			if !slices.Contains(existing, k) {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return &SchemaError{Table: s.table, Missing: missing, Reason: "existing table"}
		}
		for _, col := range schema {
			if slices.Contains(existing, col) {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", s.dialect.quote(s.table), s.dialect.quote(col))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("db: add column %s: %w", col, err)
			}
			existing = append(existing, col)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: commit schema change: %w", err)
	}
	s.columns = existing
	return nil
}

// tableColumns lists the table's columns, excluding the insertion
// sequence. An empty result means the table does not exist.
func (s *Store) tableColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery(), s.table)
	if err != nil {
		return nil, fmt.Errorf("db: list columns of %s: %w", s.table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db: scan column name: %w", err)
		}
		if name == seqColumnName {
			continue
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// knownColumns returns the cached column list, loading it on first use.
func (s *Store) knownColumns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns != nil {
		return s.columns, nil
	}
	cols, err := s.tableColumns(ctx)
	if err != nil {
		return nil, err
	}
	if len(cols) > 0 {
		s.columns = cols
	}
	return cols, nil
}

// Upsert writes records in one transaction. A record whose natural key
// already exists replaces the stored row; in the columns layout fields
// absent from the new record become NULL. Every record must carry its
// natural key.
func (s *Store) Upsert(ctx context.Context, records []normalize.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i, r := range records {
		if missing := r.MissingKeyFields(s.sep); len(missing) > 0 {
			return 0, fmt.Errorf("db: record %d lacks primary key fields %s", i, strings.Join(missing, ", "))
		}
	}

	var (
		stmt string
		args func(normalize.Record) ([]any, error)
	)
	if s.layout == config.LayoutColumns {
		cols, err := s.knownColumns(ctx)
		if err != nil {
			return 0, err
		}
		if len(cols) == 0 {
			return 0, &SchemaError{Table: s.table, Reason: "table does not exist"}
		}
		stmt = s.columnsUpsertSQL(cols)
		args = func(r normalize.Record) ([]any, error) { return columnArgs(cols, r.Flat) }
	} else {
		stmt = s.documentUpsertSQL()
		args = func(r normalize.Record) ([]any, error) { return []any{string(r.Raw)}, nil }
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db: begin: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("db: prepare upsert: %w", err)
	}
	defer prepared.Close()

	for i, r := range records {
		a, err := args(r)
		if err != nil {
			return 0, fmt.Errorf("db: record %d: %w", i, err)
		}
		if _, err := prepared.ExecContext(ctx, a...); err != nil {
			return 0, fmt.Errorf("db: upsert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db: commit upsert: %w", err)
	}
	return len(records), nil
}

func (s *Store) documentUpsertSQL() string {
	cols := append(slices.Clone(s.keys), docColumn, ingestedColumn)
	values := make([]string, 0, len(cols))
	for _, path := range normalize.NaturalKey {
		values = append(values, s.dialect.jsonParam(1, path))
	}
	values = append(values, s.dialect.jsonValue(1), s.dialect.now())

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s, %s = excluded.%s",
		s.dialect.quote(s.table), s.quoteAll(cols), strings.Join(values, ", "), s.quoteAll(s.keys),
		s.dialect.quote(docColumn), s.dialect.quote(docColumn),
		s.dialect.quote(ingestedColumn), s.dialect.quote(ingestedColumn),
	)
}

func (s *Store) columnsUpsertSQL(cols []string) string {
	placeholders := make([]string, len(cols))
	var updates []string
	for i, col := range cols {
		placeholders[i] = s.dialect.placeholder(i + 1)
		if slices.Contains(s.keys, col) {
			continue
		}
		q := s.dialect.quote(col)
		updates = append(updates, q+" = excluded."+q)
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		s.dialect.quote(s.table), s.quoteAll(cols), strings.Join(placeholders, ", "), s.quoteAll(s.keys), conflict)
}

func columnArgs(cols []string, flat map[string]any) ([]any, error) {
	args := make([]any, len(cols))
	for i, col := range cols {
		v, err := columnValue(flat[col])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		args[i] = v
	}
	return args, nil
}

// columnValue renders a flattened leaf as TEXT. Lists are stored as JSON.
func columnValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func (s *Store) quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = s.dialect.quote(id)
	}
	return strings.Join(quoted, ", ")
}

// ErrNoTable is returned by Count when the table has not been created yet.
var ErrNoTable = errors.New("db: table does not exist")

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	cols, err := s.tableColumns(ctx)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, ErrNoTable
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.quote(s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("db: count %s: %w", s.table, err)
	}
	return n, nil
}
