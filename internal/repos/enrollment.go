package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

type EnrollmentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.CourseEnrollment) ([]*types.CourseEnrollment, error)
	ActiveUserIDs(ctx context.Context, tx *gorm.DB, courseID string) ([]uuid.UUID, error)
	ActiveCount(ctx context.Context, tx *gorm.DB, courseID string, excludeUsers []uuid.UUID) (int64, error)
}

type enrollmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEnrollmentRepo(db *gorm.DB, baseLog *logger.Logger) EnrollmentRepo {
	return &enrollmentRepo{db: db, log: baseLog.With("repo", "EnrollmentRepo")}
}

func (r *enrollmentRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.CourseEnrollment) ([]*types.CourseEnrollment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.CourseEnrollment{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *enrollmentRepo) ActiveUserIDs(ctx context.Context, tx *gorm.DB, courseID string) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if courseID == "" {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.CourseEnrollment{}).
		Where("course_id = ? AND is_active = ?", courseID, true).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *enrollmentRepo) ActiveCount(ctx context.Context, tx *gorm.DB, courseID string, excludeUsers []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if courseID == "" {
		return 0, nil
	}
	q := transaction.WithContext(ctx).
		Model(&types.CourseEnrollment{}).
		Where("course_id = ? AND is_active = ?", courseID, true)
	if len(excludeUsers) > 0 {
		q = q.Where("user_id NOT IN ?", excludeUsers)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
