package store

import (
	"context"

	"github.com/kubev2v/texbatch/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Run() Run
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db  *gorm.DB
	run Run
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:  db,
		run: NewRunStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Run() Run {
	return s.run
}

func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Run{}, &model.RunTask{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
