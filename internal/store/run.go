package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kubev2v/texbatch/internal/store/model"
	"gorm.io/gorm"
)

type Run interface {
	Create(ctx context.Context, run model.Run) (*model.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
	GetByBatchID(ctx context.Context, batchID string) (*model.Run, error)
	List(ctx context.Context, filter *RunQueryFilter, opts *RunQueryOptions) (model.RunList, error)
	Update(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, jobStatus string) error
	SetTaskOutcome(ctx context.Context, id uuid.UUID, path, outcome string) error
}

type RunStore struct {
	db *gorm.DB
}

// Make sure we conform to Run interface
var _ Run = (*RunStore)(nil)

func NewRunStore(db *gorm.DB) Run {
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run model.Run) (*model.Run, error) {
	if err := s.getDB(ctx).WithContext(ctx).Create(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	var run model.Run
	result := s.getDB(ctx).WithContext(ctx).Preload("Tasks").First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying run: %w", result.Error)
	}
	return &run, nil
}

// GetByBatchID returns the most recent run submitted as batchID.
func (s *RunStore) GetByBatchID(ctx context.Context, batchID string) (*model.Run, error) {
	var run model.Run
	result := s.getDB(ctx).WithContext(ctx).
		Preload("Tasks").
		Where("batch_id = ?", batchID).
		Order("created_at desc").
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying run: %w", result.Error)
	}
	return &run, nil
}

func (s *RunStore) List(ctx context.Context, filter *RunQueryFilter, opts *RunQueryOptions) (model.RunList, error) {
	var runs model.RunList
	tx := s.getDB(ctx).WithContext(ctx).Model(&runs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Update saves the run columns. Tasks are left alone; use SetTaskOutcome.
func (s *RunStore) Update(ctx context.Context, run model.Run) (*model.Run, error) {
	result := s.getDB(ctx).WithContext(ctx).Omit("Tasks").Save(&run)
	if result.Error != nil {
		return nil, fmt.Errorf("updating run: %w", result.Error)
	}
	return &run, nil
}

func (s *RunStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, jobStatus string) error {
	result := s.getDB(ctx).WithContext(ctx).Model(&model.Run{}).Where("id = ?", id).Update("job_status", jobStatus)
	if result.Error != nil {
		return fmt.Errorf("updating job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RunStore) SetTaskOutcome(ctx context.Context, id uuid.UUID, path, outcome string) error {
	result := s.getDB(ctx).WithContext(ctx).Model(&model.RunTask{}).
		Where("run_id = ? AND path = ?", id, path).
		Update("outcome", outcome)
	if result.Error != nil {
		return fmt.Errorf("updating task outcome: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RunStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
