package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/apperr"
)

type txKey struct{}

// TxFromContext returns the transaction opened by TxRunner.InTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Transactor runs fn atomically. Repositories called from fn with the
// supplied ctx join the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Beginner is implemented by *pgxpool.Pool and *pgxpool.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxRunner opens SERIALIZABLE transactions on the tenant connection and
// replays them on serialization failures and deadlocks.
type TxRunner struct {
	fallback   Beginner
	maxRetries int
	backoff    time.Duration
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{fallback: pool, maxRetries: 3, backoff: 10 * time.Millisecond}
}

func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Nested calls join the outer transaction.
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b Beginner = r.fallback
	if c := ConnFromContext(ctx); c != nil {
		b = c
	}

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * r.backoff):
			}
		}
		err = r.run(ctx, b, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return apperr.Wrap(apperr.KindConflict,
		fmt.Errorf("transaction failed after %d attempts: %w", r.maxRetries+1, err),
		"concurrent update, please retry")
}

func (r *TxRunner) run(ctx context.Context, b Beginner, fn func(ctx context.Context) error) (err error) {
	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
