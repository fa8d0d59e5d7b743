package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type txKey struct{}

// txBeginner is satisfied by *pgxpool.Pool
type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TransactionManager makes multi-table registry writes atomic: a server with
// its owner's config on create, and the config and tool cascade on delete.
type TransactionManager struct {
	db   txBeginner
	opts pgx.TxOptions
}

func NewTransactionManager(db txBeginner) *TransactionManager {
	return &TransactionManager{db: db, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// WithTransaction runs fn against one read-committed transaction and commits
// when fn succeeds. Calls made inside fn join the outer transaction.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := tm.db.BeginTx(ctx, tm.opts)
	if err != nil {
		return fmt.Errorf("begin registry transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback registry transaction: %w", rbErr))
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, querier(tx))); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit registry transaction: %w", err)
	}
	committed = true
	return nil
}

// txFrom returns the transaction installed by WithTransaction, if any
func txFrom(ctx context.Context) querier {
	q, _ := ctx.Value(txKey{}).(querier)
	return q
}
