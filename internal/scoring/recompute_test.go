package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/clients/forum"
	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/testutil"
)

type fakeForumClient struct {
	stats       map[uuid.UUID]map[string]int
	statsErr    error
	lastEndDate *time.Time
}

func (f *fakeForumClient) GetUserSocialStats(ctx context.Context, userID uuid.UUID, courseID string, endDate *time.Time) (map[string]int, error) {
	f.lastEndDate = endDate
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats[userID], nil
}

func (f *fakeForumClient) GetThread(ctx context.Context, threadID string) (*forum.Thread, error) {
	return nil, nil
}

func (f *fakeForumClient) GetComment(ctx context.Context, commentID string) (*forum.Comment, error) {
	return nil, nil
}

type recordingQueue struct {
	tasks []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	q.tasks = append(q.tasks, taskType)
	return nil
}

type recomputeFixture struct {
	db         *gorm.DB
	forum      *fakeForumClient
	recomputer *Recomputer
	scores     repos.EngagementScoreRepo
	history    repos.EngagementScoreHistoryRepo
}

func newRecomputeFixture(t *testing.T) *recomputeFixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := logger.NewNop()
	scores := repos.NewEngagementScoreRepo(db, log)
	history := repos.NewEngagementScoreHistoryRepo(db, log)
	courses := repos.NewCourseRepo(db, log)
	enrollments := repos.NewEnrollmentRepo(db, log)
	forumClient := &fakeForumClient{stats: map[uuid.UUID]map[string]int{}}
	recomputer := NewRecomputer(db, log, DefaultMetricPolicy(), forumClient, scores, history, courses, enrollments, nil, nil, 2)
	return &recomputeFixture{
		db:         db,
		forum:      forumClient,
		recomputer: recomputer,
		scores:     scores,
		history:    history,
	}
}

func TestRecomputer_UpdateUserEngagementScore_StoresWeightedScore(t *testing.T) {
	f := newRecomputeFixture(t)
	user := testutil.SeedUser(t, f.db, "alice")
	course := testutil.SeedCourse(t, f.db, "course-1", nil)
	f.forum.stats[user.ID] = map[string]int{"num_threads": 2, "num_comments": 3, "num_downvotes": 4}

	changed, err := f.recomputer.UpdateUserEngagementScore(context.Background(), course.ID, user.ID, false, nil)
	if err != nil {
		t.Fatalf("UpdateUserEngagementScore: %v", err)
	}
	if !changed {
		t.Fatal("expected a changed score on first run")
	}

	row, err := f.scores.Get(context.Background(), nil, course.ID, user.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.Score != 2*10+3*15 {
		t.Fatalf("Score = %d, want %d", row.Score, 2*10+3*15)
	}
	if row.NumThreads != 2 || row.NumComments != 3 || row.NumDownvotes != 4 {
		t.Fatalf("counters = (%d, %d, %d), want (2, 3, 4)", row.NumThreads, row.NumComments, row.NumDownvotes)
	}
}

func TestRecomputer_UpdateUserEngagementScore_UnchangedScoreLeavesNoHistory(t *testing.T) {
	f := newRecomputeFixture(t)
	user := testutil.SeedUser(t, f.db, "alice")
	course := testutil.SeedCourse(t, f.db, "course-1", nil)
	f.forum.stats[user.ID] = map[string]int{"num_threads": 1}
	ctx := context.Background()

	if _, err := f.recomputer.UpdateUserEngagementScore(ctx, course.ID, user.ID, false, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	changed, err := f.recomputer.UpdateUserEngagementScore(ctx, course.ID, user.ID, false, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if changed {
		t.Fatal("second run with identical stats reported a change")
	}

	count, err := f.history.CountByUserAndCourse(ctx, nil, user.ID, course.ID)
	if err != nil {
		t.Fatalf("CountByUserAndCourse: %v", err)
	}
	if count != 1 {
		t.Fatalf("history count = %d, want 1", count)
	}
}

func TestRecomputer_UpdateUserEngagementScore_NoOpRunKeepsTieOrder(t *testing.T) {
	f := newRecomputeFixture(t)
	course := testutil.SeedCourse(t, f.db, "course-1", nil)
	alice := testutil.SeedUser(t, f.db, "alice")
	bob := testutil.SeedUser(t, f.db, "bob")
	testutil.SeedEnrollment(t, f.db, alice.ID, course.ID, true)
	testutil.SeedEnrollment(t, f.db, bob.ID, course.ID, true)
	f.forum.stats[alice.ID] = map[string]int{"num_threads": 1}
	f.forum.stats[bob.ID] = map[string]int{"num_threads": 1}
	ctx := context.Background()

	for _, userID := range []uuid.UUID{alice.ID, bob.ID} {
		if _, err := f.recomputer.UpdateUserEngagementScore(ctx, course.ID, userID, false, nil); err != nil {
			t.Fatalf("first run for %s: %v", userID, err)
		}
	}
	// Alice reached the tied score first, so she ranks ahead of bob.
	base := time.Now()
	for userID, updatedAt := range map[uuid.UUID]time.Time{
		alice.ID: base.Add(-time.Hour),
		bob.ID:   base,
	} {
		if err := f.db.Exec("UPDATE engagement_score SET updated_at = ? WHERE user_id = ?", updatedAt, userID).Error; err != nil {
			t.Fatalf("pin updated_at: %v", err)
		}
	}

	changed, err := f.recomputer.UpdateUserEngagementScore(ctx, course.ID, alice.ID, false, nil)
	if err != nil {
		t.Fatalf("repeat run: %v", err)
	}
	if changed {
		t.Fatal("repeat run with identical stats reported a change")
	}

	entries, err := f.scores.TopN(ctx, nil, course.ID, 2, nil, nil)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(entries) != 2 || entries[0].Username != "alice" || entries[1].Username != "bob" {
		t.Fatalf("leaderboard = %v, want alice ahead of bob", entries)
	}
}

func TestRecomputer_UpdateUserEngagementScore_ClosedCourseNeedsForce(t *testing.T) {
	f := newRecomputeFixture(t)
	user := testutil.SeedUser(t, f.db, "alice")
	endsAt := time.Now().Add(-24 * time.Hour)
	course := testutil.SeedCourse(t, f.db, "course-1", &endsAt)
	f.forum.stats[user.ID] = map[string]int{"num_threads": 1}
	ctx := context.Background()

	changed, err := f.recomputer.UpdateUserEngagementScore(ctx, course.ID, user.ID, false, nil)
	if err != nil {
		t.Fatalf("unforced run: %v", err)
	}
	if changed {
		t.Fatal("closed course recomputed without force")
	}

	changed, err = f.recomputer.UpdateUserEngagementScore(ctx, course.ID, user.ID, true, nil)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if !changed {
		t.Fatal("forced run did not store a score")
	}
	// The end date caps the stats window even when forcing.
	if f.forum.lastEndDate == nil || !f.forum.lastEndDate.Equal(endsAt) {
		t.Fatalf("stats end date = %v, want %v", f.forum.lastEndDate, endsAt)
	}
}

func TestRecomputer_UpdateUserEngagementScore_ForumFailureSkips(t *testing.T) {
	f := newRecomputeFixture(t)
	user := testutil.SeedUser(t, f.db, "alice")
	course := testutil.SeedCourse(t, f.db, "course-1", nil)
	f.forum.statsErr = fmt.Errorf("forum unavailable")

	changed, err := f.recomputer.UpdateUserEngagementScore(context.Background(), course.ID, user.ID, false, nil)
	if err != nil {
		t.Fatalf("UpdateUserEngagementScore: %v", err)
	}
	if changed {
		t.Fatal("failed stats fetch should not change anything")
	}
	row, err := f.scores.Get(context.Background(), nil, course.ID, user.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row != nil {
		t.Fatal("expected no aggregate row after a failed fetch")
	}
}

func TestRecomputer_UpdateCourseEngagementScores_CountsChangedUsers(t *testing.T) {
	f := newRecomputeFixture(t)
	course := testutil.SeedCourse(t, f.db, "course-1", nil)

	active1 := testutil.SeedUser(t, f.db, "alice")
	active2 := testutil.SeedUser(t, f.db, "bob")
	silent := testutil.SeedUser(t, f.db, "carol")
	dropped := testutil.SeedUser(t, f.db, "dave")
	testutil.SeedEnrollment(t, f.db, active1.ID, course.ID, true)
	testutil.SeedEnrollment(t, f.db, active2.ID, course.ID, true)
	testutil.SeedEnrollment(t, f.db, silent.ID, course.ID, true)
	testutil.SeedEnrollment(t, f.db, dropped.ID, course.ID, false)

	f.forum.stats[active1.ID] = map[string]int{"num_threads": 1}
	f.forum.stats[active2.ID] = map[string]int{"num_comments": 1}
	f.forum.stats[dropped.ID] = map[string]int{"num_threads": 9}

	updated, err := f.recomputer.UpdateCourseEngagementScores(context.Background(), course.ID, false)
	if err != nil {
		t.Fatalf("UpdateCourseEngagementScores: %v", err)
	}
	if updated != 2 {
		t.Fatalf("updated = %d, want 2", updated)
	}

	row, err := f.scores.Get(context.Background(), nil, course.ID, dropped.ID)
	if err != nil {
		t.Fatalf("Get dropped: %v", err)
	}
	if row != nil {
		t.Fatal("inactive enrollment was recomputed")
	}
}

func TestRecomputer_RecomputeAll_EnqueuesMatchingCourses(t *testing.T) {
	f := newRecomputeFixture(t)
	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(48 * time.Hour)
	testutil.SeedCourse(t, f.db, "course-open-1", nil)
	testutil.SeedCourse(t, f.db, "course-open-2", &future)
	testutil.SeedCourse(t, f.db, "course-ended", &past)

	queue := &recordingQueue{}
	enqueued, err := f.recomputer.RecomputeAll(context.Background(), queue, RecomputeAllOptions{OpenOnly: true})
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if enqueued != 2 {
		t.Fatalf("enqueued = %d, want 2", enqueued)
	}
	for _, taskType := range queue.tasks {
		if taskType != TaskRecomputeCourse {
			t.Fatalf("task type = %s, want %s", taskType, TaskRecomputeCourse)
		}
	}
}

var _ forum.Client = (*fakeForumClient)(nil)
var _ TaskQueue = (*recordingQueue)(nil)
