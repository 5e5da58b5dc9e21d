package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

// counterColumns is the closed set of metric counter columns. Delta and
// overwrite calls only ever touch columns in this set; anything else in an
// incoming metric map is dropped.
var counterColumns = map[string]bool{
	"num_threads":            true,
	"num_comments":           true,
	"num_replies":            true,
	"num_upvotes":            true,
	"num_downvotes":          true,
	"num_thread_followers":   true,
	"num_comments_generated": true,
	"num_threads_read":       true,
	"num_flagged":            true,
}

// IsCounterColumn reports whether name is a known metric counter column.
func IsCounterColumn(name string) bool { return counterColumns[name] }

// LeaderboardEntry is one row of a generated leaderboard.
type LeaderboardEntry struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EngagementScoreRepo interface {
	Get(ctx context.Context, tx *gorm.DB, courseID string, userID uuid.UUID) (*types.EngagementScore, error)
	// Ensure returns the aggregate row for (user, course), creating it when
	// absent. Safe under concurrent callers for the same pair.
	Ensure(ctx context.Context, tx *gorm.DB, courseID string, userID uuid.UUID) (*types.EngagementScore, error)
	// ApplyDelta adds signed per-column amounts plus a score delta in place,
	// as a single UPDATE, and returns the row as stored afterwards.
	ApplyDelta(ctx context.Context, tx *gorm.DB, id uuid.UUID, counters map[string]int, scoreDelta int) (*types.EngagementScore, error)
	// OverwriteCounters replaces the given counter columns wholesale without
	// touching the score column.
	OverwriteCounters(ctx context.Context, tx *gorm.DB, id uuid.UUID, counters map[string]int) error
	SetScore(ctx context.Context, tx *gorm.DB, id uuid.UUID, score int) error
	// CountRankedAbove counts enrolled active users ranking strictly ahead of
	// the given (score, tiebreak) position.
	CountRankedAbove(ctx context.Context, tx *gorm.DB, courseID string, score int, tiebreak time.Time, excludeUsers []uuid.UUID) (int64, error)
	// SumScores totals the scores of enrolled active non-excluded users.
	SumScores(ctx context.Context, tx *gorm.DB, courseID string, excludeUsers []uuid.UUID) (int64, error)
	TopN(ctx context.Context, tx *gorm.DB, courseID string, n int, excludeUsers []uuid.UUID, orgIDs []uuid.UUID) ([]*LeaderboardEntry, error)
}

type engagementScoreRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEngagementScoreRepo(db *gorm.DB, baseLog *logger.Logger) EngagementScoreRepo {
	return &engagementScoreRepo{db: db, log: baseLog.With("repo", "EngagementScoreRepo")}
}

func (r *engagementScoreRepo) Get(ctx context.Context, tx *gorm.DB, courseID string, userID uuid.UUID) (*types.EngagementScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if courseID == "" || userID == uuid.Nil {
		return nil, nil
	}
	var row types.EngagementScore
	err := transaction.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *engagementScoreRepo) Ensure(ctx context.Context, tx *gorm.DB, courseID string, userID uuid.UUID) (*types.EngagementScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if courseID == "" || userID == uuid.Nil {
		return nil, fmt.Errorf("ensure engagement score: missing course_id or user_id")
	}
	// Insert-first with ON CONFLICT DO NOTHING: a concurrent delta creating
	// the same (user, course) row never raises an error, so the enclosing
	// transaction stays usable and the existing row wins.
	row := &types.EngagementScore{
		ID:       uuid.New(),
		UserID:   userID,
		CourseID: courseID,
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return row, nil
	}
	existing, err := r.Get(ctx, transaction, courseID, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("ensure engagement score: row missing after insert conflict")
	}
	return existing, nil
}

func (r *engagementScoreRepo) ApplyDelta(ctx context.Context, tx *gorm.DB, id uuid.UUID, counters map[string]int, scoreDelta int) (*types.EngagementScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("apply delta: missing row id")
	}
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	for column, amount := range counters {
		if !counterColumns[column] || amount == 0 {
			continue
		}
		updates[column] = gorm.Expr(column+" + ?", amount)
	}
	if scoreDelta != 0 {
		updates["score"] = gorm.Expr("score + ?", scoreDelta)
	}
	if err := transaction.WithContext(ctx).
		Model(&types.EngagementScore{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error; err != nil {
		return nil, err
	}
	var row types.EngagementScore
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *engagementScoreRepo) OverwriteCounters(ctx context.Context, tx *gorm.DB, id uuid.UUID, counters map[string]int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return fmt.Errorf("overwrite counters: missing row id")
	}
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	for column, value := range counters {
		if !counterColumns[column] {
			continue
		}
		updates[column] = value
	}
	return transaction.WithContext(ctx).
		Model(&types.EngagementScore{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error
}

func (r *engagementScoreRepo) SetScore(ctx context.Context, tx *gorm.DB, id uuid.UUID, score int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return fmt.Errorf("set score: missing row id")
	}
	return transaction.WithContext(ctx).
		Model(&types.EngagementScore{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"score":      score,
			"updated_at": time.Now(),
		}).Error
}

// rankedQuery scopes engagement rows to active users with an active
// enrollment in the course, matching what the leaderboard considers eligible.
func (r *engagementScoreRepo) rankedQuery(ctx context.Context, transaction *gorm.DB, courseID string, excludeUsers []uuid.UUID) *gorm.DB {
	q := transaction.WithContext(ctx).
		Model(&types.EngagementScore{}).
		Joins(`JOIN "user" u ON u.id = engagement_score.user_id AND u.is_active = ?`, true).
		Joins(`JOIN course_enrollment ce ON ce.user_id = engagement_score.user_id AND ce.course_id = engagement_score.course_id AND ce.is_active = ?`, true).
		Where("engagement_score.course_id = ?", courseID)
	if len(excludeUsers) > 0 {
		q = q.Where("engagement_score.user_id NOT IN ?", excludeUsers)
	}
	return q
}

func (r *engagementScoreRepo) CountRankedAbove(ctx context.Context, tx *gorm.DB, courseID string, score int, tiebreak time.Time, excludeUsers []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := r.rankedQuery(ctx, transaction, courseID, excludeUsers).
		Where("engagement_score.score > ? OR (engagement_score.score = ? AND engagement_score.updated_at < ?)", score, score, tiebreak).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *engagementScoreRepo) SumScores(ctx context.Context, tx *gorm.DB, courseID string, excludeUsers []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total *int64
	err := r.rankedQuery(ctx, transaction, courseID, excludeUsers).
		Select("SUM(engagement_score.score)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *engagementScoreRepo) TopN(ctx context.Context, tx *gorm.DB, courseID string, n int, excludeUsers []uuid.UUID, orgIDs []uuid.UUID) ([]*LeaderboardEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*LeaderboardEntry
	if n <= 0 {
		return results, nil
	}
	q := r.rankedQuery(ctx, transaction, courseID, excludeUsers).
		Select("engagement_score.user_id AS user_id, u.username AS username, engagement_score.score AS score, engagement_score.updated_at AS updated_at")
	if len(orgIDs) > 0 {
		q = q.Where("u.organization_id IN ?", orgIDs)
	}
	// Ties rank by earlier last-modified time.
	if err := q.Order("engagement_score.score DESC, engagement_score.updated_at ASC").
		Limit(n).
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
