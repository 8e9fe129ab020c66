// Package ledger is the point-balance and audit-log mutation unit shared
// across trip activity. Every mutation runs inside a transaction scoped to one
// identity and is committed or rolled back atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
)

// ErrInsufficientBalance is returned when a debit would take the identity's
// balance below zero.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Transaction is one open ledger transaction scoped to a single identity.
type Transaction interface {
	Debit(ctx context.Context, amount int64, memo string) error
	Credit(ctx context.Context, amount int64, memo string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Ledger opens identity-scoped transactions.
type Ledger interface {
	Begin(ctx context.Context, identityID string) (Transaction, error)
}

// WithTransaction runs fn inside a transaction and guarantees release on
// every exit path: commit when fn succeeds, rollback when it fails or panics.
func WithTransaction(ctx context.Context, l Ledger, identityID string, fn func(Transaction) error) error {
	tx, err := l.Begin(ctx, identityID)
	if err != nil {
		return fmt.Errorf("begin ledger transaction for %s: %w", identityID, err)
	}

	committed := false
	defer func() {
		if !committed {
			// Rollback errors are secondary to whatever aborted fn.
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger transaction for %s: %w", identityID, err)
	}
	committed = true
	return nil
}

// PostgresLedger implements Ledger on a pgx connection pool.
type PostgresLedger struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgresLedger(pool *pgxpool.Pool, log *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, log: log}
}

func (l *PostgresLedger) Begin(ctx context.Context, identityID string) (Transaction, error) {
	if identityID == "" {
		return nil, fault.New(fault.KindValidation, "ledger transaction requires an identity id")
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	// Serialize concurrent mutations for the same identity on the balance row.
	if _, err := tx.Exec(ctx, `
		SELECT balance FROM balances WHERE identity_id = $1 FOR UPDATE
	`, identityID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("lock balance for %s: %w", identityID, err)
	}
	return &postgresTx{tx: tx, identityID: identityID, log: l.log}, nil
}

type postgresTx struct {
	tx         pgx.Tx
	identityID string
	log        *zap.Logger
}

func (t *postgresTx) Debit(ctx context.Context, amount int64, memo string) error {
	return t.apply(ctx, -amount, memo)
}

func (t *postgresTx) Credit(ctx context.Context, amount int64, memo string) error {
	return t.apply(ctx, amount, memo)
}

func (t *postgresTx) apply(ctx context.Context, delta int64, memo string) error {
	if delta == 0 {
		return nil
	}

	var balance int64
	err := t.tx.QueryRow(ctx, `
		UPDATE balances
		SET balance = balance + $1, updated_at = NOW()
		WHERE identity_id = $2
		RETURNING balance
	`, delta, t.identityID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Newf(fault.KindDomain, "no balance for identity %s", t.identityID)
		}
		return fmt.Errorf("update balance: %w", err)
	}
	if balance < 0 {
		return ErrInsufficientBalance
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_audit (id, identity_id, delta, memo, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New(), t.identityID, delta, memo); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	t.log.Debug("ledger mutation recorded",
		zap.String("identityId", t.identityID),
		zap.Int64("delta", delta),
		zap.String("memo", memo))
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
