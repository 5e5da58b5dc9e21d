package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/testutil"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

type engineFixture struct {
	db      *gorm.DB
	engine  *Engine
	scores  repos.EngagementScoreRepo
	history repos.EngagementScoreHistoryRepo
	user    *types.User
	course  *types.Course
}

func newEngineFixture(t *testing.T, endsAt *time.Time) *engineFixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := logger.NewNop()
	scores := repos.NewEngagementScoreRepo(db, log)
	history := repos.NewEngagementScoreHistoryRepo(db, log)
	courses := repos.NewCourseRepo(db, log)
	engine := NewEngine(db, log, DefaultMetricPolicy(), scores, history, courses, nil, nil)
	return &engineFixture{
		db:      db,
		engine:  engine,
		scores:  scores,
		history: history,
		user:    testutil.SeedUser(t, db, "alice"),
		course:  testutil.SeedCourse(t, db, "course-v1:Org+Sub+Run", endsAt),
	}
}

func (f *engineFixture) score(t *testing.T) *types.EngagementScore {
	t.Helper()
	row, err := f.scores.Get(context.Background(), nil, f.course.ID, f.user.ID)
	if err != nil {
		t.Fatalf("Get score: %v", err)
	}
	return row
}

func (f *engineFixture) historyCount(t *testing.T) int64 {
	t.Helper()
	count, err := f.history.CountByUserAndCourse(context.Background(), nil, f.user.ID, f.course.ID)
	if err != nil {
		t.Fatalf("Count history: %v", err)
	}
	return count
}

func TestEngine_ApplyDelta_CreatesRowAndScores(t *testing.T) {
	f := newEngineFixture(t, nil)

	err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:    f.user.ID,
		CourseID:  f.course.ID,
		Metrics:   map[Metric]int{MetricThreads: 1},
		Direction: Increment,
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	row := f.score(t)
	if row == nil {
		t.Fatal("expected aggregate row after first delta")
	}
	if row.NumThreads != 1 {
		t.Fatalf("NumThreads = %d, want 1", row.NumThreads)
	}
	if row.Score != 10 {
		t.Fatalf("Score = %d, want 10", row.Score)
	}
	if got := f.historyCount(t); got != 1 {
		t.Fatalf("history count = %d, want 1", got)
	}
}

func TestEngine_ApplyDelta_DecrementMirrorsIncrement(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	metrics := map[Metric]int{MetricComments: 1, MetricUpvotes: 2}
	if err := f.engine.ApplyDelta(ctx, ScoreDelta{UserID: f.user.ID, CourseID: f.course.ID, Metrics: metrics, Direction: Increment}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := f.engine.ApplyDelta(ctx, ScoreDelta{UserID: f.user.ID, CourseID: f.course.ID, Metrics: metrics, Direction: Decrement}); err != nil {
		t.Fatalf("decrement: %v", err)
	}

	row := f.score(t)
	if row.NumComments != 0 || row.NumUpvotes != 0 {
		t.Fatalf("counters = (%d, %d), want (0, 0)", row.NumComments, row.NumUpvotes)
	}
	if row.Score != 0 {
		t.Fatalf("Score = %d, want 0", row.Score)
	}
	// Each save leaves its own audit row.
	if got := f.historyCount(t); got != 2 {
		t.Fatalf("history count = %d, want 2", got)
	}
}

func TestEngine_ApplyDelta_MultiplicityScalesEveryMetric(t *testing.T) {
	f := newEngineFixture(t, nil)

	err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:       f.user.ID,
		CourseID:     f.course.ID,
		Metrics:      map[Metric]int{MetricUpvotes: 1},
		Direction:    Increment,
		Multiplicity: 3,
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	row := f.score(t)
	if row.NumUpvotes != 3 {
		t.Fatalf("NumUpvotes = %d, want 3", row.NumUpvotes)
	}
	if row.Score != 75 {
		t.Fatalf("Score = %d, want 75", row.Score)
	}
}

func TestEngine_ApplyDelta_ClosedCourseIsFrozen(t *testing.T) {
	endsAt := time.Now().Add(-time.Hour)
	f := newEngineFixture(t, &endsAt)

	err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:    f.user.ID,
		CourseID:  f.course.ID,
		Metrics:   map[Metric]int{MetricThreads: 1},
		Direction: Increment,
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if row := f.score(t); row != nil {
		t.Fatalf("expected no aggregate row for closed course, got score %d", row.Score)
	}
	if got := f.historyCount(t); got != 0 {
		t.Fatalf("history count = %d, want 0", got)
	}
}

func TestEngine_ApplyDelta_UnknownCourseIsNoOp(t *testing.T) {
	f := newEngineFixture(t, nil)

	err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:    f.user.ID,
		CourseID:  "course-v1:Does+Not+Exist",
		Metrics:   map[Metric]int{MetricThreads: 1},
		Direction: Increment,
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	var count int64
	if err := f.db.Model(&types.EngagementScore{}).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("aggregate rows = %d, want 0", count)
	}
}

func TestEngine_ApplyDelta_UnknownMetricDropped(t *testing.T) {
	f := newEngineFixture(t, nil)

	err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:    f.user.ID,
		CourseID:  f.course.ID,
		Metrics:   map[Metric]int{Metric("num_bogus"): 5},
		Direction: Increment,
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if row := f.score(t); row != nil {
		t.Fatal("expected no aggregate row when every metric is unknown")
	}
}

func TestEngine_ApplyDelta_MissingIdentifiersIgnored(t *testing.T) {
	f := newEngineFixture(t, nil)

	if err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:    uuid.Nil,
		CourseID:  f.course.ID,
		Metrics:   map[Metric]int{MetricThreads: 1},
		Direction: Increment,
	}); err != nil {
		t.Fatalf("ApplyDelta without user: %v", err)
	}
	if err := f.engine.ApplyDelta(context.Background(), ScoreDelta{
		UserID:    f.user.ID,
		Metrics:   map[Metric]int{MetricThreads: 1},
		Direction: Increment,
	}); err != nil {
		t.Fatalf("ApplyDelta without course: %v", err)
	}
	if got := f.historyCount(t); got != 0 {
		t.Fatalf("history count = %d, want 0", got)
	}
}
