package services

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
)

// LeaderboardService answers the read-side ranking queries over the score
// store. Only users who are active and actively enrolled count.
type LeaderboardService interface {
	// GetUserEngagementScore returns the stored score, or nil when the user
	// has no aggregate yet.
	GetUserEngagementScore(ctx context.Context, courseID string, userID uuid.UUID) (*int, error)
	// GetUserLeaderboardPosition returns the 1-based rank; 0 is the
	// "unranked" sentinel for users with a zero score or no record.
	GetUserLeaderboardPosition(ctx context.Context, courseID string, userID uuid.UUID, excludeUsers []uuid.UUID) (int, error)
	GetCourseAverageEngagementScore(ctx context.Context, courseID string, excludeUsers []uuid.UUID) (int, error)
	// GenerateLeaderboard returns the top-N entries plus the course average.
	GenerateLeaderboard(ctx context.Context, courseID string, count int, excludeUsers []uuid.UUID, orgIDs []uuid.UUID) ([]*repos.LeaderboardEntry, int, error)
}

type leaderboardService struct {
	log         *logger.Logger
	scores      repos.EngagementScoreRepo
	enrollments repos.EnrollmentRepo
}

func NewLeaderboardService(baseLog *logger.Logger, scores repos.EngagementScoreRepo, enrollments repos.EnrollmentRepo) LeaderboardService {
	return &leaderboardService{
		log:         baseLog.With("service", "LeaderboardService"),
		scores:      scores,
		enrollments: enrollments,
	}
}

func (s *leaderboardService) GetUserEngagementScore(ctx context.Context, courseID string, userID uuid.UUID) (*int, error) {
	row, err := s.scores.Get(ctx, nil, courseID, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	score := row.Score
	return &score, nil
}

func (s *leaderboardService) GetUserLeaderboardPosition(ctx context.Context, courseID string, userID uuid.UUID, excludeUsers []uuid.UUID) (int, error) {
	row, err := s.scores.Get(ctx, nil, courseID, userID)
	if err != nil {
		return 0, err
	}
	if row == nil || row.Score <= 0 {
		return 0, nil
	}
	above, err := s.scores.CountRankedAbove(ctx, nil, courseID, row.Score, row.UpdatedAt, excludeUsers)
	if err != nil {
		return 0, err
	}
	return int(above) + 1, nil
}

func (s *leaderboardService) GetCourseAverageEngagementScore(ctx context.Context, courseID string, excludeUsers []uuid.UUID) (int, error) {
	total, err := s.scores.SumScores(ctx, nil, courseID, excludeUsers)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	// The denominator is everyone enrolled, not just everyone with a score.
	enrolled, err := s.enrollments.ActiveCount(ctx, nil, courseID, excludeUsers)
	if err != nil {
		return 0, err
	}
	if enrolled == 0 {
		return 0, nil
	}
	return int(math.Round(float64(total) / float64(enrolled))), nil
}

func (s *leaderboardService) GenerateLeaderboard(ctx context.Context, courseID string, count int, excludeUsers []uuid.UUID, orgIDs []uuid.UUID) ([]*repos.LeaderboardEntry, int, error) {
	if count <= 0 {
		count = 3
	}
	average, err := s.GetCourseAverageEngagementScore(ctx, courseID, excludeUsers)
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.scores.TopN(ctx, nil, courseID, count, excludeUsers, orgIDs)
	if err != nil {
		return nil, 0, err
	}
	return entries, average, nil
}
