package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

type EngagementScoreHistoryRepo interface {
	// Append records one immutable snapshot of a saved score.
	Append(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID string, score int) error
	ListByUserAndCourse(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID string) ([]*types.EngagementScoreHistory, error)
	CountByUserAndCourse(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID string) (int64, error)
}

type engagementScoreHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEngagementScoreHistoryRepo(db *gorm.DB, baseLog *logger.Logger) EngagementScoreHistoryRepo {
	return &engagementScoreHistoryRepo{db: db, log: baseLog.With("repo", "EngagementScoreHistoryRepo")}
}

func (r *engagementScoreHistoryRepo) Append(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID string, score int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	row := &types.EngagementScoreHistory{
		ID:       uuid.New(),
		UserID:   userID,
		CourseID: courseID,
		Score:    score,
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *engagementScoreHistoryRepo) ListByUserAndCourse(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID string) ([]*types.EngagementScoreHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.EngagementScoreHistory
	if userID == uuid.Nil || courseID == "" {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *engagementScoreHistoryRepo) CountByUserAndCourse(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.EngagementScoreHistory{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
