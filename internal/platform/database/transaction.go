package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const defaultTxTimeout = 15 * time.Second

type txKey struct{}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	timeout time.Duration
}

// WithTxTimeout bounds the transaction duration.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// Conn returns the transaction bound to ctx, or db scoped to ctx when no transaction is active.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}

// InTx reports whether ctx carries an active transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok && tx != nil
}

// RunInTx executes fn inside a transaction carried on the context passed to fn. Nested calls
// join the outer transaction. fn's error rolls the transaction back and is returned unchanged.
func RunInTx(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error, opts ...TxOption) error {
	if db == nil {
		return WrapError("transaction", errors.New("database: db is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("database: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	cfg := txConfig{timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var fnErr error
	err := db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(context.WithValue(txCtx, txKey{}, tx))
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return WrapError("transaction", err)
}

// UnitOfWork adapts RunInTx to the repositories.UnitOfWork contract.
type UnitOfWork struct {
	db   *gorm.DB
	opts []TxOption
}

// NewUnitOfWork constructs a UnitOfWork for db.
func NewUnitOfWork(db *gorm.DB, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{db: db, opts: opts}
}

// RunInTx executes fn atomically.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, u.db, fn, u.opts...)
}
