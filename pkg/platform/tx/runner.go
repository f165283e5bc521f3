package tx

import (
	"context"
	"database/sql"
	"fmt"
)

// Runner executes a function atomically. The SQL implementation wraps it in a
// database transaction; Passthrough just calls it, which is what the
// in-memory stores need.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs the function inside a serializable-enough transaction and
// exposes it to stores through the context.
type SQLRunner struct {
	DB *sql.DB
}

func (r SQLRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Passthrough satisfies Runner without transactional semantics.
type Passthrough struct{}

func (Passthrough) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
