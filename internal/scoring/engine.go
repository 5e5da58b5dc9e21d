package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
)

// ScoreDelta is one signed change against a (user, course) aggregate.
// Metrics holds positive counts; Direction and Multiplicity sign and scale
// every metric in the map together.
type ScoreDelta struct {
	UserID       uuid.UUID
	CourseID     string
	Metrics      map[Metric]int
	Direction    Direction
	Multiplicity int
}

// CacheInvalidator drops an external read-through cache entry after an
// aggregate write. Nil disables invalidation.
type CacheInvalidator interface {
	InvalidateScore(ctx context.Context, courseID string, userID uuid.UUID)
}

// Engine applies deltas to the score store. All writes for one delta happen
// in a single transaction with atomic in-place column arithmetic, so
// interleaved deltas for the same pair serialize at the database and never
// lose an update.
type Engine struct {
	db      *gorm.DB
	log     *logger.Logger
	policy  MetricPolicy
	scores  repos.EngagementScoreRepo
	history repos.EngagementScoreHistoryRepo
	courses repos.CourseRepo
	cache   CacheInvalidator
	watcher *RankWatcher
	now     func() time.Time
}

func NewEngine(
	db *gorm.DB,
	baseLog *logger.Logger,
	policy MetricPolicy,
	scores repos.EngagementScoreRepo,
	history repos.EngagementScoreHistoryRepo,
	courses repos.CourseRepo,
	cache CacheInvalidator,
	watcher *RankWatcher,
) *Engine {
	return &Engine{
		db:      db,
		log:     baseLog.With("component", "ScoreEngine"),
		policy:  policy,
		scores:  scores,
		history: history,
		courses: courses,
		cache:   cache,
		watcher: watcher,
		now:     time.Now,
	}
}

// ApplyDelta upserts the aggregate for the delta's (user, course) pair and
// applies every metric change plus the derived score change. Closed courses
// are frozen: the call is a silent no-op. The returned error is for the
// caller's log line; engagement bookkeeping never propagates it to the forum
// action that triggered it.
func (e *Engine) ApplyDelta(ctx context.Context, delta ScoreDelta) error {
	if delta.UserID == uuid.Nil || delta.CourseID == "" || len(delta.Metrics) == 0 {
		return nil
	}
	multiplicity := delta.Multiplicity
	if multiplicity == 0 {
		multiplicity = 1
	}
	sign := 1
	if delta.Direction == Decrement {
		sign = -1
	}

	course, err := e.courses.GetByID(ctx, nil, delta.CourseID)
	if err != nil {
		return fmt.Errorf("fetch course %s: %w", delta.CourseID, err)
	}
	if course == nil {
		e.log.Info("Skipping delta, course not found", "course_id", delta.CourseID)
		return nil
	}
	if course.Closed(e.now()) {
		e.log.Debug("Skipping delta, course is closed", "course_id", delta.CourseID)
		return nil
	}

	counters := make(map[string]int, len(delta.Metrics))
	scoreDelta := 0
	for metric, count := range delta.Metrics {
		if count <= 0 || !repos.IsCounterColumn(string(metric)) {
			continue
		}
		signed := count * multiplicity * sign
		counters[string(metric)] += signed
		scoreDelta += e.policy.Weight(metric) * signed
	}
	if len(counters) == 0 {
		return nil
	}

	preRank := e.watcher.Before(ctx, delta.CourseID, delta.UserID)

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := e.scores.Ensure(ctx, tx, delta.CourseID, delta.UserID)
		if err != nil {
			return err
		}
		updated, err := e.scores.ApplyDelta(ctx, tx, row.ID, counters, scoreDelta)
		if err != nil {
			return err
		}
		return e.history.Append(ctx, tx, delta.UserID, delta.CourseID, updated.Score)
	})
	if err != nil {
		return fmt.Errorf("apply delta for user %s in course %s: %w", delta.UserID, delta.CourseID, err)
	}

	if e.cache != nil {
		e.cache.InvalidateScore(ctx, delta.CourseID, delta.UserID)
	}
	e.watcher.After(ctx, delta.CourseID, delta.UserID, preRank)
	return nil
}
