package events

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
	"github.com/openlearnhq/engagement-backend/internal/scoring"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

type recordingApplier struct {
	deltas []scoring.ScoreDelta
}

func (a *recordingApplier) ApplyDelta(ctx context.Context, delta scoring.ScoreDelta) error {
	a.deltas = append(a.deltas, delta)
	return nil
}

type stubForumClient struct {
	threads  map[string]*forum.Thread
	comments map[string]*forum.Comment
	err      error
}

func (f *stubForumClient) GetUserSocialStats(ctx context.Context, userID uuid.UUID, courseID string, endDate *time.Time) (map[string]int, error) {
	return nil, nil
}

func (f *stubForumClient) GetThread(ctx context.Context, threadID string) (*forum.Thread, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.threads[threadID], nil
}

func (f *stubForumClient) GetComment(ctx context.Context, commentID string) (*forum.Comment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.comments[commentID], nil
}

type stubUserRepo struct {
	byUsername map[string]*types.User
}

func (r *stubUserRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.User) ([]*types.User, error) {
	return rows, nil
}

func (r *stubUserRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
	return nil, nil
}

func (r *stubUserRepo) GetByUsernames(ctx context.Context, tx *gorm.DB, usernames []string) ([]*types.User, error) {
	var results []*types.User
	for _, username := range usernames {
		if user, ok := r.byUsername[username]; ok {
			results = append(results, user)
		}
	}
	return results, nil
}

type routerFixture struct {
	router  *Router
	applier *recordingApplier
	forum   *stubForumClient
	users   *stubUserRepo
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	applier := &recordingApplier{}
	forumClient := &stubForumClient{
		threads:  map[string]*forum.Thread{},
		comments: map[string]*forum.Comment{},
	}
	users := &stubUserRepo{byUsername: map[string]*types.User{}}
	router := NewRouter(logger.NewNop(), scoring.DefaultMetricPolicy(), forumClient, users, applier)
	return &routerFixture{router: router, applier: applier, forum: forumClient, users: users}
}

func (f *routerFixture) route(t *testing.T, evt Event) {
	t.Helper()
	if err := f.router.Route(context.Background(), evt); err != nil {
		t.Fatalf("Route(%s): %v", evt.Type, err)
	}
}

func singleDelta(t *testing.T, applier *recordingApplier) scoring.ScoreDelta {
	t.Helper()
	if len(applier.deltas) != 1 {
		t.Fatalf("deltas = %d, want 1", len(applier.deltas))
	}
	return applier.deltas[0]
}

func TestRouter_ThreadCreated_CreditsActor(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()

	f.route(t, Event{Type: ThreadCreated, CourseID: "course-1", ActorID: actor})

	delta := singleDelta(t, f.applier)
	if delta.UserID != actor {
		t.Fatalf("delta user = %s, want actor", delta.UserID)
	}
	if delta.Metrics[scoring.MetricThreads] != 1 || delta.Direction != scoring.Increment {
		t.Fatalf("delta = %+v, want single num_threads increment", delta)
	}
}

func TestRouter_CommentCreated_CreditsActorAndThreadAuthor(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	author := uuid.New()
	f.forum.threads["t1"] = &forum.Thread{ID: "t1", UserID: author, CourseID: "course-1"}

	f.route(t, Event{Type: CommentCreated, CourseID: "course-1", ActorID: actor, ThreadID: "t1", CommentID: "c1"})

	if len(f.applier.deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(f.applier.deltas))
	}
	if f.applier.deltas[0].UserID != actor || f.applier.deltas[0].Metrics[scoring.MetricComments] != 1 {
		t.Fatalf("first delta = %+v, want actor num_comments", f.applier.deltas[0])
	}
	if f.applier.deltas[1].UserID != author || f.applier.deltas[1].Metrics[scoring.MetricCommentsGenerated] != 1 {
		t.Fatalf("second delta = %+v, want author num_comments_generated", f.applier.deltas[1])
	}
}

func TestRouter_CommentCreated_OwnThreadNoGeneratedCredit(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	f.forum.threads["t1"] = &forum.Thread{ID: "t1", UserID: actor, CourseID: "course-1"}

	f.route(t, Event{Type: CommentCreated, CourseID: "course-1", ActorID: actor, ThreadID: "t1", CommentID: "c1"})

	delta := singleDelta(t, f.applier)
	if delta.UserID != actor || delta.Metrics[scoring.MetricComments] != 1 {
		t.Fatalf("delta = %+v, want only the actor's num_comments", delta)
	}
}

func TestRouter_CommentCreated_NestedReplyCreditsBothSides(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	parentAuthor := uuid.New()
	f.forum.comments["c0"] = &forum.Comment{ID: "c0", UserID: parentAuthor, ThreadID: "t1"}

	f.route(t, Event{Type: CommentCreated, CourseID: "course-1", ActorID: actor, ThreadID: "t1", CommentID: "c1", ParentID: "c0"})

	if len(f.applier.deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(f.applier.deltas))
	}
	if f.applier.deltas[0].Metrics[scoring.MetricReplies] != 1 {
		t.Fatalf("first delta = %+v, want actor num_replies", f.applier.deltas[0])
	}
	if f.applier.deltas[1].UserID != parentAuthor || f.applier.deltas[1].Metrics[scoring.MetricCommentsGenerated] != 1 {
		t.Fatalf("second delta = %+v, want parent author num_comments_generated", f.applier.deltas[1])
	}
}

func TestRouter_CommentCreated_ParentLookupFailureSkipsCredit(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	f.forum.err = fmt.Errorf("forum unavailable")

	f.route(t, Event{Type: CommentCreated, CourseID: "course-1", ActorID: actor, ThreadID: "t1", CommentID: "c1", ParentID: "c0"})

	delta := singleDelta(t, f.applier)
	if delta.UserID != actor {
		t.Fatalf("delta user = %s, want actor only", delta.UserID)
	}
}

func TestRouter_Vote_CreditsOwner(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	owner := uuid.New()

	f.route(t, Event{Type: ThreadVoted, CourseID: "course-1", ActorID: actor, OwnerID: owner, ThreadID: "t1"})

	delta := singleDelta(t, f.applier)
	if delta.UserID != owner {
		t.Fatalf("delta user = %s, want content owner", delta.UserID)
	}
	if delta.Metrics[scoring.MetricUpvotes] != 1 || delta.Direction != scoring.Increment {
		t.Fatalf("delta = %+v, want num_upvotes increment", delta)
	}
}

func TestRouter_Vote_UndoDecrements(t *testing.T) {
	f := newRouterFixture(t)

	f.route(t, Event{Type: CommentVoted, CourseID: "course-1", ActorID: uuid.New(), OwnerID: uuid.New(), CommentID: "c1", Undo: true})

	delta := singleDelta(t, f.applier)
	if delta.Direction != scoring.Decrement {
		t.Fatalf("direction = %d, want decrement on undo", delta.Direction)
	}
}

func TestRouter_Vote_SelfVoteNoDelta(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()

	f.route(t, Event{Type: ThreadVoted, CourseID: "course-1", ActorID: actor, OwnerID: actor, ThreadID: "t1"})

	if len(f.applier.deltas) != 0 {
		t.Fatalf("deltas = %d, want 0 for self-vote", len(f.applier.deltas))
	}
}

func TestRouter_Vote_OwnerResolvedThroughForum(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	owner := uuid.New()
	f.forum.threads["t1"] = &forum.Thread{ID: "t1", UserID: owner, CourseID: "course-1"}

	f.route(t, Event{Type: ThreadVoted, CourseID: "course-1", ActorID: actor, ThreadID: "t1"})

	delta := singleDelta(t, f.applier)
	if delta.UserID != owner {
		t.Fatalf("delta user = %s, want thread author from lookup", delta.UserID)
	}
}

func TestRouter_FollowAndUnfollow(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()
	owner := uuid.New()

	f.route(t, Event{Type: ThreadFollowed, CourseID: "course-1", ActorID: actor, OwnerID: owner, ThreadID: "t1"})
	f.route(t, Event{Type: ThreadUnfollowed, CourseID: "course-1", ActorID: actor, OwnerID: owner, ThreadID: "t1"})

	if len(f.applier.deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(f.applier.deltas))
	}
	if f.applier.deltas[0].Metrics[scoring.MetricThreadFollowers] != 1 || f.applier.deltas[0].Direction != scoring.Increment {
		t.Fatalf("follow delta = %+v", f.applier.deltas[0])
	}
	if f.applier.deltas[1].Direction != scoring.Decrement {
		t.Fatalf("unfollow delta = %+v, want decrement", f.applier.deltas[1])
	}
}

func TestRouter_SelfFollowNoDelta(t *testing.T) {
	f := newRouterFixture(t)
	actor := uuid.New()

	f.route(t, Event{Type: ThreadFollowed, CourseID: "course-1", ActorID: actor, OwnerID: actor, ThreadID: "t1"})

	if len(f.applier.deltas) != 0 {
		t.Fatalf("deltas = %d, want 0 for self-follow", len(f.applier.deltas))
	}
}

func TestRouter_Flag_IncrementsOwnerFlagCount(t *testing.T) {
	f := newRouterFixture(t)

	f.route(t, Event{Type: ThreadOrCommentFlagged, CourseID: "course-1", ActorID: uuid.New(), OwnerID: uuid.New(), ThreadID: "t1"})

	delta := singleDelta(t, f.applier)
	if delta.Metrics[scoring.MetricFlagged] != 1 {
		t.Fatalf("delta = %+v, want num_flagged increment", delta)
	}
}

func TestRouter_Deletion_FansOutDecrements(t *testing.T) {
	f := newRouterFixture(t)
	alice := &types.User{ID: uuid.New(), Username: "alice"}
	f.users.byUsername["alice"] = alice

	f.route(t, Event{
		Type:     ThreadDeleted,
		CourseID: "course-1",
		InvolvedUsers: map[string]map[string]int{
			"alice": {"num_comments": 2, "num_upvotes": 1},
			"ghost": {"num_comments": 5},
		},
	})

	delta := singleDelta(t, f.applier)
	if delta.UserID != alice.ID {
		t.Fatalf("delta user = %s, want alice; unknown usernames must be skipped", delta.UserID)
	}
	if delta.Direction != scoring.Decrement {
		t.Fatalf("direction = %d, want decrement", delta.Direction)
	}
	if delta.Metrics[scoring.MetricComments] != 2 || delta.Metrics[scoring.MetricUpvotes] != 1 {
		t.Fatalf("metrics = %+v, want the involved-user breakdown", delta.Metrics)
	}
}

func TestRouter_Route_RejectsInvalidEvent(t *testing.T) {
	f := newRouterFixture(t)
	err := f.router.Route(context.Background(), Event{Type: "mystery_event", CourseID: "course-1", ActorID: uuid.New()})
	if err == nil {
		t.Fatal("expected an error for an unknown event type")
	}
	if len(f.applier.deltas) != 0 {
		t.Fatalf("deltas = %d, want 0", len(f.applier.deltas))
	}
}

var _ repos.UserRepo = (*stubUserRepo)(nil)
