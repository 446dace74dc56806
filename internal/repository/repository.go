package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vaidashi/order-settlement-api/internal/database"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDatabase  = errors.New("database error")
	ErrDuplicate = errors.New("duplicate record")
	// ErrStale is returned by guarded updates whose precondition no longer holds
	ErrStale = errors.New("stale record")
)

// wrap classifies driver errors into repository sentinels
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// Both sqlite drivers report constraint failures with this text
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// exec runs a rebinding exec and requires exactly one affected row when mustAffect is set
func exec(ctx context.Context, db database.Executor, mustAffect bool, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return wrap(err)
	}

	if !mustAffect {
		return nil
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func get(ctx context.Context, db database.Executor, dest interface{}, query string, args ...interface{}) error {
	return wrap(sqlx.GetContext(ctx, db, dest, db.Rebind(query), args...))
}

func selectAll(ctx context.Context, db database.Executor, dest interface{}, query string, args ...interface{}) error {
	return wrap(sqlx.SelectContext(ctx, db, dest, db.Rebind(query), args...))
}

// in expands an IN (?) clause and rebinds it for the driver
func in(db database.Executor, query string, args ...interface{}) (string, []interface{}, error) {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return db.Rebind(q), expanded, nil
}

// Page bounds list queries
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
