package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// Storage implements ports.Storage over the objects table.
//
// Filters compile to json_extract SQL; object-ACL permission checks run in
// Go after the scan so they share the reference semantics of
// object.Filter.Matches and the memory adapter.
type Storage struct {
	db *DB
}

// NewStorage creates a SQLite-backed object store.
func NewStorage(db *DB) *Storage {
	return &Storage{db: db}
}

// Find returns objects matching the filter that the caller may read.
func (s *Storage) Find(ctx context.Context, className string, filter object.Filter, opts ports.ReadOptions) ([]object.Map, error) {
	objs, err := s.query(ctx, className, filter)
	if err != nil {
		return nil, err
	}
	var out []object.Map
	for _, obj := range objs {
		if !permitted(obj, opts.ACL, false) {
			continue
		}
		out = append(out, obj)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Create stores a new object. Unique index violations surface as
// duplicate-value errors for the pipeline's classification fallback.
func (s *Storage) Create(ctx context.Context, className string, data object.Map, opts ports.WriteOptions) (object.Map, error) {
	if opts.ValidateOnly {
		return nil, nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (class_name, object_id, data) VALUES (?, ?, ?)
	`, className, object.String(data, "objectId"), string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.New(apierr.CodeDuplicateValue,
				"A duplicate value for a field with unique values was provided")
		}
		return nil, fmt.Errorf("insert object: %w", err)
	}
	return object.Clone(data), nil
}

// Update applies field updates to matching objects the caller may write.
func (s *Storage) Update(ctx context.Context, className string, filter object.Filter, update object.Map, opts ports.WriteOptions) (object.Map, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	objs, err := s.queryTx(ctx, tx, className, filter)
	if err != nil {
		return nil, err
	}

	var last object.Map
	matched := 0
	for _, obj := range objs {
		if !permitted(obj, opts.ACL, true) {
			continue
		}
		matched++
		if opts.ValidateOnly {
			if !opts.Many {
				break
			}
			continue
		}
		merged := object.Clone(obj)
		for k, v := range update {
			if object.IsDelete(v) {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		body, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("encode object: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE objects SET data = ? WHERE class_name = ? AND object_id = ?
		`, string(body), className, object.String(obj, "objectId"))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, apierr.New(apierr.CodeDuplicateValue,
					"A duplicate value for a field with unique values was provided")
			}
			return nil, fmt.Errorf("update object: %w", err)
		}
		last = merged
		if !opts.Many {
			break
		}
	}
	if matched == 0 {
		return nil, apierr.ErrObjectNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return last, nil
}

// Destroy removes matching objects the caller may write.
func (s *Storage) Destroy(ctx context.Context, className string, filter object.Filter, opts ports.WriteOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin destroy: %w", err)
	}
	defer tx.Rollback()

	objs, err := s.queryTx(ctx, tx, className, filter)
	if err != nil {
		return err
	}

	removed := 0
	for _, obj := range objs {
		if !permitted(obj, opts.ACL, true) {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM objects WHERE class_name = ? AND object_id = ?
		`, className, object.String(obj, "objectId"))
		if err != nil {
			return fmt.Errorf("delete object: %w", err)
		}
		removed++
		if !opts.Many {
			break
		}
	}
	if removed == 0 {
		return apierr.ErrObjectNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit destroy: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Storage) query(ctx context.Context, className string, filter object.Filter) ([]object.Map, error) {
	return scanObjects(ctx, s.db, className, filter)
}

func (s *Storage) queryTx(ctx context.Context, tx *sql.Tx, className string, filter object.Filter) ([]object.Map, error) {
	return scanObjects(ctx, tx, className, filter)
}

func scanObjects(ctx context.Context, q querier, className string, filter object.Filter) ([]object.Map, error) {
	where, args := compileFilter(filter)
	query := "SELECT data FROM objects WHERE class_name = ?"
	args = append([]any{className}, args...)
	if where != "" {
		query += " AND " + where
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	var out []object.Map
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		var obj object.Map
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// compileFilter renders a filter as a SQL predicate over json_extract.
func compileFilter(f object.Filter) (string, []any) {
	var parts []string
	var args []any

	for _, c := range f.Clauses {
		expr := "json_extract(data, ?)"
		path := "$." + c.Field
		switch c.Op {
		case object.OpEqual:
			parts = append(parts, expr+" = ?")
			args = append(args, path, c.Value)
		case object.OpNotEqual:
			parts = append(parts, "("+expr+" IS NULL OR "+expr+" != ?)")
			args = append(args, path, path, c.Value)
		case object.OpEqualFold:
			parts = append(parts, "lower("+expr+") = lower(?)")
			args = append(args, path, c.Value)
		case object.OpIn:
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.Values)), ",")
			parts = append(parts, expr+" IN ("+placeholders+")")
			args = append(args, path)
			args = append(args, c.Values...)
		case object.OpContains:
			parts = append(parts, "EXISTS (SELECT 1 FROM json_each(data, ?) WHERE json_each.value = ?)")
			args = append(args, path, c.Value)
		}
	}

	if len(f.Or) > 0 {
		var branches []string
		for _, branch := range f.Or {
			where, branchArgs := compileFilter(branch)
			if where == "" {
				where = "1=1"
			}
			branches = append(branches, "("+where+")")
			args = append(args, branchArgs...)
		}
		parts = append(parts, "("+strings.Join(branches, " OR ")+")")
	}

	return strings.Join(parts, " AND "), args
}

// permitted evaluates the object ACL. Nil subjects means master; an
// object without an ACL is open.
func permitted(obj object.Map, subjects []string, write bool) bool {
	if subjects == nil {
		return true
	}
	acl, ok := object.ACLFrom(obj["ACL"])
	if !ok || acl == nil {
		return true
	}
	for _, subject := range subjects {
		access := acl[subject]
		if write && access.Write {
			return true
		}
		if !write && access.Read {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Ensure interface compliance.
var _ ports.Storage = (*Storage)(nil)
