package scoring

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlearnhq/engagement-backend/internal/logger"
)

// RankSource answers leaderboard-position queries; the read-side service
// implements it.
type RankSource interface {
	GetUserLeaderboardPosition(ctx context.Context, courseID string, userID uuid.UUID, excludeUsers []uuid.UUID) (int, error)
}

// RankNotifier publishes rank-change messages for external leaderboard
// consumers.
type RankNotifier interface {
	PublishRankChange(ctx context.Context, courseID string, userID uuid.UUID, rank int) error
}

// RankWatcher compares a user's leaderboard rank before and after an
// aggregate save and announces entries into the top of the board. A nil
// watcher disables the feature; all methods are nil-safe.
type RankWatcher struct {
	log      *logger.Logger
	ranks    RankSource
	notifier RankNotifier
	size     int
}

func NewRankWatcher(baseLog *logger.Logger, ranks RankSource, notifier RankNotifier, leaderboardSize int) *RankWatcher {
	if leaderboardSize <= 0 {
		leaderboardSize = 3
	}
	return &RankWatcher{
		log:      baseLog.With("component", "RankWatcher"),
		ranks:    ranks,
		notifier: notifier,
		size:     leaderboardSize,
	}
}

// Before captures the pre-save rank. Zero means unranked.
func (w *RankWatcher) Before(ctx context.Context, courseID string, userID uuid.UUID) int {
	if w == nil {
		return 0
	}
	rank, err := w.ranks.GetUserLeaderboardPosition(ctx, courseID, userID, nil)
	if err != nil {
		w.log.Warn("Pre-save rank lookup failed", "course_id", courseID, "user_id", userID, "error", err)
		return 0
	}
	return rank
}

// After publishes a rank-change message when the user newly entered the top
// of the leaderboard. Notification failures log and never disrupt scoring.
func (w *RankWatcher) After(ctx context.Context, courseID string, userID uuid.UUID, preRank int) {
	if w == nil {
		return
	}
	rank, err := w.ranks.GetUserLeaderboardPosition(ctx, courseID, userID, nil)
	if err != nil {
		w.log.Warn("Post-save rank lookup failed", "course_id", courseID, "user_id", userID, "error", err)
		return
	}
	if rank == 0 || rank > w.size {
		return
	}
	// Rank 0 reads as "was not on the board at all".
	if preRank != 0 && preRank <= w.size {
		return
	}
	if err := w.notifier.PublishRankChange(ctx, courseID, userID, rank); err != nil {
		w.log.Warn("Rank change publish failed", "course_id", courseID, "user_id", userID, "rank", rank, "error", err)
	}
}
