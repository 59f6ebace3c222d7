package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Savepoint wraps a named SQL savepoint within an open transaction. pgx/v5
// does not wrap savepoints natively, so the three statements are issued as
// raw SQL; the name is caller-controlled and must be a safe identifier
// (callers pass a fixed "sp_<n>" form, never user input).
type Savepoint struct {
	tx   pgx.Tx
	name string
}

// NewSavepoint opens a new savepoint named sp_<seq> inside tx.
func NewSavepoint(ctx context.Context, tx pgx.Tx, seq int) (*Savepoint, error) {
	name := fmt.Sprintf("sp_%d", seq)
	if _, err := tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("savepoint %s: %w", name, err)
	}
	return &Savepoint{tx: tx, name: name}, nil
}

// Release releases the savepoint, keeping its work as part of the
// enclosing transaction.
func (s *Savepoint) Release(ctx context.Context) error {
	_, err := s.tx.Exec(ctx, "RELEASE SAVEPOINT "+s.name)
	return err
}

// RollbackTo rolls the transaction back to the savepoint, undoing its work
// while leaving the enclosing transaction open.
func (s *Savepoint) RollbackTo(ctx context.Context) error {
	_, err := s.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+s.name)
	return err
}
