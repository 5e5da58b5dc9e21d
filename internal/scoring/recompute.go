package scoring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/clients/forum"
	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

// Task types dispatched through the queue for deferred scoring work.
const (
	TaskRecomputeCourse = "recompute_course"
	TaskUpdateUserScore = "update_user_score"
)

// UpdateUserScorePayload is the task payload for one single-user rebuild.
type UpdateUserScorePayload struct {
	CourseID        string    `json:"course_id"`
	UserID          uuid.UUID `json:"user_id"`
	ComputeIfClosed bool      `json:"compute_if_closed"`
}

// TaskQueue is the fire-and-forget dispatch surface the recomputer uses for
// per-course fan-out.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) error
}

// RecomputeCoursePayload is the task payload for one course-wide rebuild.
type RecomputeCoursePayload struct {
	CourseID        string `json:"course_id"`
	ComputeIfClosed bool   `json:"compute_if_closed"`
}

// RecomputeAllOptions selects the course set for a batch rebuild by end-date
// filters.
type RecomputeAllOptions struct {
	OpenOnly     bool
	InactiveOnly bool
	MonthsBack   int
}

// Recomputer rebuilds aggregates wholesale from the forum service's
// authoritative per-user statistics, correcting whatever drift the
// incremental path has accumulated.
type Recomputer struct {
	db          *gorm.DB
	log         *logger.Logger
	policy      MetricPolicy
	forum       forum.Client
	scores      repos.EngagementScoreRepo
	history     repos.EngagementScoreHistoryRepo
	courses     repos.CourseRepo
	enrollments repos.EnrollmentRepo
	cache       CacheInvalidator
	watcher     *RankWatcher
	concurrency int
	now         func() time.Time
}

func NewRecomputer(
	db *gorm.DB,
	baseLog *logger.Logger,
	policy MetricPolicy,
	forumClient forum.Client,
	scores repos.EngagementScoreRepo,
	history repos.EngagementScoreHistoryRepo,
	courses repos.CourseRepo,
	enrollments repos.EnrollmentRepo,
	cache CacheInvalidator,
	watcher *RankWatcher,
	concurrency int,
) *Recomputer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Recomputer{
		db:          db,
		log:         baseLog.With("component", "Recomputer"),
		policy:      policy,
		forum:       forumClient,
		scores:      scores,
		history:     history,
		courses:     courses,
		enrollments: enrollments,
		cache:       cache,
		watcher:     watcher,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// UpdateUserEngagementScore overwrites one user's aggregate from the forum
// service snapshot. The course can be passed in to spare a refetch during
// course-wide runs. It reports whether a new score was stored: an unchanged
// score skips the write entirely, so repeat runs leave no extra history.
func (r *Recomputer) UpdateUserEngagementScore(ctx context.Context, courseID string, userID uuid.UUID, computeIfClosed bool, course *types.Course) (bool, error) {
	if courseID == "" || userID == uuid.Nil {
		return false, nil
	}
	if course == nil {
		fetched, err := r.courses.GetByID(ctx, nil, courseID)
		if err != nil {
			return false, err
		}
		if fetched == nil {
			r.log.Info("Skipping recompute, course not found", "course_id", courseID)
			return false, nil
		}
		course = fetched
	}
	if !computeIfClosed && course.Closed(r.now()) {
		r.log.Info("Skipping recompute, course is closed", "course_id", courseID)
		return false, nil
	}
	// The end date travels along as the stats cutoff even when forcing, so
	// post-closure forum activity never scores.
	return r.overwriteFromStats(ctx, courseID, userID, course.EndsAt)
}

func (r *Recomputer) overwriteFromStats(ctx context.Context, courseID string, userID uuid.UUID, endDate *time.Time) (bool, error) {
	stats, err := r.forum.GetUserSocialStats(ctx, userID, courseID, endDate)
	if err != nil {
		// Transient forum failure: log, skip this user; the next run will
		// pick them up.
		r.log.Warn("Social stats fetch failed", "course_id", courseID, "user_id", userID, "error", err)
		return false, nil
	}
	if stats == nil {
		return false, nil
	}

	previous, err := r.scores.Get(ctx, nil, courseID, userID)
	if err != nil {
		return false, err
	}
	previousScore := 0
	if previous != nil {
		previousScore = previous.Score
	}
	currentScore := r.policy.ScoreFor(stats)
	r.log.Debug("Recomputed engagement score", "course_id", courseID, "user_id", userID, "previous_score", previousScore, "current_score", currentScore)

	changed := currentScore != previousScore
	if !changed && !countersChanged(previous, stats) {
		// Nothing to store. Skipping the write keeps updated_at, the
		// leaderboard tie-break column, untouched on repeat runs.
		return false, nil
	}
	preRank := 0
	if changed {
		preRank = r.watcher.Before(ctx, courseID, userID)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.scores.Ensure(ctx, tx, courseID, userID)
		if err != nil {
			return err
		}
		if err := r.scores.OverwriteCounters(ctx, tx, row.ID, stats); err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := r.scores.SetScore(ctx, tx, row.ID, currentScore); err != nil {
			return err
		}
		return r.history.Append(ctx, tx, userID, courseID, currentScore)
	})
	if err != nil {
		return false, err
	}

	if changed {
		if r.cache != nil {
			r.cache.InvalidateScore(ctx, courseID, userID)
		}
		r.watcher.After(ctx, courseID, userID, preRank)
	}
	return changed, nil
}

// countersChanged reports whether storing the snapshot would alter any
// counter column. Only counters present in the snapshot are compared, which
// mirrors what an overwrite would actually touch.
func countersChanged(previous *types.EngagementScore, stats map[string]int) bool {
	if previous == nil {
		for column, value := range stats {
			if repos.IsCounterColumn(column) && value != 0 {
				return true
			}
		}
		return false
	}
	existing := previous.Counters()
	for column, value := range stats {
		if repos.IsCounterColumn(column) && existing[column] != value {
			return true
		}
	}
	return false
}

// UpdateCourseEngagementScores recomputes every actively enrolled user in a
// course and returns how many stored scores changed. Per-user failures are
// logged and skipped; one broken user never aborts the course.
func (r *Recomputer) UpdateCourseEngagementScores(ctx context.Context, courseID string, computeIfClosed bool) (int, error) {
	course, err := r.courses.GetByID(ctx, nil, courseID)
	if err != nil {
		return 0, err
	}
	if course == nil {
		r.log.Info("Course does not exist, nothing to recompute", "course_id", courseID)
		return 0, nil
	}
	if !computeIfClosed && course.Closed(r.now()) {
		r.log.Info("Skipping course recompute, course is closed", "course_id", courseID)
		return 0, nil
	}

	userIDs, err := r.enrollments.ActiveUserIDs(ctx, nil, courseID)
	if err != nil {
		return 0, err
	}

	var updated int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for _, userID := range userIDs {
		group.Go(func() error {
			changed, err := r.UpdateUserEngagementScore(groupCtx, courseID, userID, computeIfClosed, course)
			if err != nil {
				r.log.Warn("User recompute failed", "course_id", courseID, "user_id", userID, "error", err)
				return nil
			}
			if changed {
				atomic.AddInt64(&updated, 1)
			}
			return nil
		})
	}
	_ = group.Wait()

	count := int(atomic.LoadInt64(&updated))
	r.log.Info("Course engagement scores recomputed", "course_id", courseID, "enrolled", len(userIDs), "updated", count)
	return count, nil
}

// RecomputeAll enqueues one recompute task per matching course,
// fire-and-forget; backpressure is the queue's concern, not ours. Returns
// how many courses were enqueued.
func (r *Recomputer) RecomputeAll(ctx context.Context, queue TaskQueue, opts RecomputeAllOptions) (int, error) {
	filter := repos.CourseFilter{
		OpenOnly:     opts.OpenOnly,
		InactiveOnly: opts.InactiveOnly,
		MonthsBack:   opts.MonthsBack,
	}
	courses, err := r.courses.ListByFilter(ctx, nil, filter, r.now())
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, course := range courses {
		payload := RecomputeCoursePayload{CourseID: course.ID, ComputeIfClosed: true}
		if err := queue.Enqueue(ctx, TaskRecomputeCourse, payload); err != nil {
			r.log.Warn("Failed to enqueue course recompute", "course_id", course.ID, "error", err)
			continue
		}
		enqueued++
	}
	r.log.Info("Batch recompute dispatched", "courses", enqueued)
	return enqueued, nil
}
