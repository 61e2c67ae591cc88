package store

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type txKey struct{}

var txSeq atomic.Int64

// Tx is a ledger transaction carried by a context. Store methods called
// with that context run inside it until Commit or Rollback.
type Tx struct {
	id int64
	db *gorm.DB
}

// newTransactionContext begins a transaction unless ctx already carries one,
// in which case ctx is returned unchanged and the outer transaction is used.
func newTransactionContext(ctx context.Context, db *gorm.DB) (context.Context, error) {
	if _, ok := ctx.Value(txKey{}).(*Tx); ok {
		return ctx, nil
	}

	begun := db.Session(&gorm.Session{Context: ctx}).Begin()
	if begun.Error != nil {
		return ctx, begun.Error
	}
	tx := &Tx{id: txSeq.Add(1), db: begun}
	zap.S().Named("store").Debugw("transaction started", "tx", tx.id)
	return context.WithValue(ctx, txKey{}, tx), nil
}

// Commit commits the transaction carried by ctx. Without one it does nothing.
func Commit(ctx context.Context) (context.Context, error) {
	return finish(ctx, "commit", func(db *gorm.DB) *gorm.DB { return db.Commit() })
}

// Rollback aborts the transaction carried by ctx. Calling it after Commit is
// a no-op, so it can be deferred right after the transaction starts.
func Rollback(ctx context.Context) (context.Context, error) {
	return finish(ctx, "rollback", func(db *gorm.DB) *gorm.DB { return db.Rollback() })
}

// FromContext returns the transaction handle carried by ctx, or nil.
func FromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx.db != nil {
		return tx.db
	}
	return nil
}

func finish(ctx context.Context, action string, end func(*gorm.DB) *gorm.DB) (context.Context, error) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	if !ok {
		return ctx, nil
	}
	outer := context.WithValue(ctx, txKey{}, nil)
	if tx.db == nil {
		return outer, nil
	}

	log := zap.S().Named("store")
	if err := end(tx.db).Error; err != nil {
		log.Errorw("transaction "+action+" failed", "tx", tx.id, "error", err)
		return outer, err
	}
	tx.db = nil
	log.Debugw("transaction "+action, "tx", tx.id)
	return outer, nil
}
