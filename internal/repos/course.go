package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

// CourseFilter selects courses by their end-date window for bulk
// recomputation runs.
type CourseFilter struct {
	// OpenOnly keeps courses whose end date is null or in the future.
	OpenOnly bool
	// InactiveOnly keeps courses whose end date is in the past.
	InactiveOnly bool
	// MonthsBack, when nonzero with InactiveOnly, keeps only courses that
	// ended within the last N months.
	MonthsBack int
}

type CourseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Course) ([]*types.Course, error)
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Course, error)
	ListByFilter(ctx context.Context, tx *gorm.DB, filter CourseFilter, now time.Time) ([]*types.Course, error)
}

type courseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseRepo(db *gorm.DB, baseLog *logger.Logger) CourseRepo {
	return &courseRepo{db: db, log: baseLog.With("repo", "CourseRepo")}
}

func (r *courseRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Course) ([]*types.Course, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.Course{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *courseRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Course, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil, nil
	}
	var row types.Course
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *courseRepo) ListByFilter(ctx context.Context, tx *gorm.DB, filter CourseFilter, now time.Time) ([]*types.Course, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Course{})
	if filter.OpenOnly {
		q = q.Where("ends_at IS NULL OR ends_at > ?", now)
	}
	if filter.InactiveOnly {
		q = q.Where("ends_at IS NOT NULL AND ends_at <= ?", now)
		if filter.MonthsBack > 0 {
			cutoff := now.AddDate(0, -filter.MonthsBack, 0)
			q = q.Where("ends_at >= ?", cutoff)
		}
	}
	var results []*types.Course
	if err := q.Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
