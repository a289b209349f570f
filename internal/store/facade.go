package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Row is a generic result row keyed by column name.
type Row map[string]any

var knownTables = map[string]struct{}{
	"users":        {},
	"clients":      {},
	"projects":     {},
	"time_entries": {},
	"captures":     {},
	"sync_records": {},
}

func checkTable(table string) error {
	if _, ok := knownTables[table]; !ok {
		return fmt.Errorf("store: unknown table %q", table)
	}
	return nil
}

// GetByID fetches one row by primary key.
func (s *Store) GetByID(ctx context.Context, table string, id int64) (Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	rows, err := s.QueryRows(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// GetAll fetches every row of a table ordered by primary key.
func (s *Store) GetAll(ctx context.Context, table string) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	order := "id"
	if table == "sync_records" {
		order = "entity_kind, entity_id"
	}
	return s.QueryRows(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", table, order))
}

// Insert adds a row from column/value pairs and returns the assigned id.
func (s *Store) Insert(ctx context.Context, table string, values Row) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, errors.New("store: insert requires at least one column")
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	for _, col := range cols {
		args = append(args, values[col])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	res, err := s.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// Update overwrites the provided columns of a row identified by id.
func (s *Store) Update(ctx context.Context, table string, id int64, values Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(values) == 0 {
		return errors.New("store: update requires at least one column")
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	assigns := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		assigns = append(assigns, col+" = ?")
		args = append(args, values[col])
	}
	args = append(args, id)

	res, err := s.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		table, strings.Join(assigns, ", ")), args...)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRow removes a single row by id without cascading.
func (s *Store) DeleteRow(ctx context.Context, table string, id int64) error {
	if err := checkTable(table); err != nil {
		return err
	}
	res, err := s.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("store: delete from %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryRows runs an arbitrary query and materialises the result set.
func (s *Store) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalise(raw[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalise(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case sql.RawBytes:
		return string(t)
	default:
		return v
	}
}
