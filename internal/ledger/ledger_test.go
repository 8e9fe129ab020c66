package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *recordedTx) Debit(context.Context, int64, string) error  { return nil }
func (t *recordedTx) Credit(context.Context, int64, string) error { return nil }
func (t *recordedTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *recordedTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type stubLedger struct {
	tx       *recordedTx
	beginErr error
	identity string
}

func (l *stubLedger) Begin(_ context.Context, identityID string) (Transaction, error) {
	l.identity = identityID
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	return l.tx, nil
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	l := &stubLedger{tx: &recordedTx{}}

	err := WithTransaction(context.Background(), l, "identity-1", func(tx Transaction) error {
		return tx.Debit(context.Background(), 100, "test")
	})

	require.NoError(t, err)
	assert.Equal(t, "identity-1", l.identity)
	assert.True(t, l.tx.committed)
	assert.False(t, l.tx.rolledBack)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	l := &stubLedger{tx: &recordedTx{}}
	sentinel := errors.New("provider rejected the booking")

	err := WithTransaction(context.Background(), l, "identity-1", func(Transaction) error {
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.False(t, l.tx.committed)
	assert.True(t, l.tx.rolledBack)
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	l := &stubLedger{tx: &recordedTx{}}

	assert.Panics(t, func() {
		_ = WithTransaction(context.Background(), l, "identity-1", func(Transaction) error {
			panic("boom")
		})
	})

	assert.False(t, l.tx.committed)
	assert.True(t, l.tx.rolledBack)
}

func TestWithTransaction_CommitFailureRollsBack(t *testing.T) {
	l := &stubLedger{tx: &recordedTx{commitErr: errors.New("connection reset")}}

	err := WithTransaction(context.Background(), l, "identity-1", func(Transaction) error {
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit ledger transaction")
	assert.True(t, l.tx.rolledBack)
}

func TestWithTransaction_BeginFailure(t *testing.T) {
	l := &stubLedger{beginErr: errors.New("pool exhausted")}

	called := false
	err := WithTransaction(context.Background(), l, "identity-1", func(Transaction) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
}
