package transaction

import (
	"context"

	"gorm.io/gorm"
)

type transactionContextKey struct{}

// WithTx binds an open transaction to the context so repository calls
// inside a transactional unit share it.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, transactionContextKey{}, tx)
}

// Database hands out the right *gorm.DB for a context: the bound
// transaction when one is active, the root handle otherwise.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db}
}

func (t *Database) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(transactionContextKey{}).(*gorm.DB); ok {
		return tx
	}
	return t.db
}

// InTransaction runs fn with a transaction carried in its context. Any
// error rolls back the whole write set.
func (t *Database) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
}
