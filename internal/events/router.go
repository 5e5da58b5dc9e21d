package events

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlearnhq/engagement-backend/internal/clients/forum"
	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/scoring"
)

// DeltaApplier is the router's write surface; the scoring engine implements
// it.
type DeltaApplier interface {
	ApplyDelta(ctx context.Context, delta scoring.ScoreDelta) error
}

// Router maps each forum event to zero or more score deltas. One rule per
// event type; indirect targets (thread authors, parent-comment authors) are
// resolved through the forum service at routing time. A lookup that fails
// skips that delta only — drift is the recomputer's problem, blocking the
// forum's write path is not acceptable.
type Router struct {
	log    *logger.Logger
	policy scoring.MetricPolicy
	forum  forum.Client
	users  repos.UserRepo
	engine DeltaApplier
}

func NewRouter(baseLog *logger.Logger, policy scoring.MetricPolicy, forumClient forum.Client, users repos.UserRepo, engine DeltaApplier) *Router {
	return &Router{
		log:    baseLog.With("component", "EventRouter"),
		policy: policy,
		forum:  forumClient,
		users:  users,
		engine: engine,
	}
}

func (r *Router) Route(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	switch evt.Type {
	case ThreadCreated:
		r.apply(ctx, evt, evt.ActorID, scoring.MetricThreads, scoring.Increment)
	case CommentCreated:
		r.routeCommentCreated(ctx, evt)
	case ThreadVoted, CommentVoted:
		r.routeOwnerMetric(ctx, evt, scoring.MetricUpvotes)
	case ThreadDeleted, CommentDeleted:
		r.routeDeletion(ctx, evt)
	case ThreadFollowed:
		r.routeFollow(ctx, evt, scoring.Increment)
	case ThreadUnfollowed:
		r.routeFollow(ctx, evt, scoring.Decrement)
	case ThreadOrCommentFlagged:
		r.routeOwnerMetric(ctx, evt, scoring.MetricFlagged)
	}
	return nil
}

// routeCommentCreated credits the acting user for the post and the author
// being replied to for the engagement it generated.
func (r *Router) routeCommentCreated(ctx context.Context, evt Event) {
	nested := evt.ParentID != ""

	actorMetric := scoring.MetricComments
	if nested {
		actorMetric = r.policy.ReplyMetric
	}
	r.apply(ctx, evt, evt.ActorID, actorMetric, scoring.Increment)

	parentMetric := scoring.MetricCommentsGenerated
	if nested {
		parentMetric = r.policy.ReplyParentMetric
	}
	if parentMetric == "" {
		return
	}

	var parentAuthor uuid.UUID
	if nested {
		parent, err := r.forum.GetComment(ctx, evt.ParentID)
		if err != nil || parent == nil {
			r.log.Warn("Parent comment lookup failed, skipping reply credit", "comment_id", evt.ParentID, "error", err)
			return
		}
		parentAuthor = parent.UserID
	} else {
		threadID := evt.ThreadID
		if threadID == "" {
			return
		}
		thread, err := r.forum.GetThread(ctx, threadID)
		if err != nil || thread == nil {
			r.log.Warn("Thread lookup failed, skipping thread-author credit", "thread_id", threadID, "error", err)
			return
		}
		parentAuthor = thread.UserID
	}

	// Replying to yourself earns nothing extra.
	if parentAuthor == uuid.Nil || parentAuthor == evt.ActorID {
		return
	}
	r.apply(ctx, evt, parentAuthor, parentMetric, scoring.Increment)
}

// routeOwnerMetric handles votes and flags: the credit lands on the content
// owner, not the acting user, and the undo flag turns it into a decrement.
func (r *Router) routeOwnerMetric(ctx context.Context, evt Event, metric scoring.Metric) {
	owner := r.resolveOwner(ctx, evt)
	if owner == uuid.Nil {
		return
	}
	if owner == evt.ActorID {
		r.log.Debug("Self-action, no delta", "event", evt.Type, "user_id", owner)
		return
	}
	direction := scoring.Increment
	if evt.Undo {
		direction = scoring.Decrement
	}
	r.apply(ctx, evt, owner, metric, direction)
}

func (r *Router) routeFollow(ctx context.Context, evt Event, direction scoring.Direction) {
	owner := r.resolveOwner(ctx, evt)
	if owner == uuid.Nil {
		return
	}
	// Following your own thread is not engagement.
	if owner == evt.ActorID {
		r.log.Debug("Self-follow, no delta", "event", evt.Type, "user_id", owner)
		return
	}
	r.apply(ctx, evt, owner, scoring.MetricThreadFollowers, direction)
}

// routeDeletion walks the precomputed involved-users breakdown and issues
// one multi-metric decrement per author whose content went away.
func (r *Router) routeDeletion(ctx context.Context, evt Event) {
	if len(evt.InvolvedUsers) == 0 {
		return
	}
	usernames := make([]string, 0, len(evt.InvolvedUsers))
	for username := range evt.InvolvedUsers {
		usernames = append(usernames, username)
	}
	users, err := r.users.GetByUsernames(ctx, nil, usernames)
	if err != nil {
		r.log.Warn("Involved-user resolution failed, skipping deletion deltas", "event", evt.Type, "error", err)
		return
	}
	byUsername := make(map[string]uuid.UUID, len(users))
	for _, user := range users {
		byUsername[user.Username] = user.ID
	}
	for username, contributions := range evt.InvolvedUsers {
		userID, ok := byUsername[username]
		if !ok {
			r.log.Warn("Involved user unknown, skipping their deltas", "username", username)
			continue
		}
		metrics := make(map[scoring.Metric]int, len(contributions))
		for metricName, count := range contributions {
			if count > 0 {
				metrics[scoring.Metric(metricName)] = count
			}
		}
		if len(metrics) == 0 {
			continue
		}
		delta := scoring.ScoreDelta{
			UserID:    userID,
			CourseID:  evt.CourseID,
			Metrics:   metrics,
			Direction: scoring.Decrement,
		}
		if err := r.engine.ApplyDelta(ctx, delta); err != nil {
			r.log.Error("Deletion delta failed", "event", evt.Type, "user_id", userID, "error", err)
		}
	}
}

// resolveOwner returns the content owner's user id, falling back to forum
// lookups when the payload does not carry it.
func (r *Router) resolveOwner(ctx context.Context, evt Event) uuid.UUID {
	if evt.OwnerID != uuid.Nil {
		return evt.OwnerID
	}
	if evt.CommentID != "" {
		comment, err := r.forum.GetComment(ctx, evt.CommentID)
		if err != nil || comment == nil {
			r.log.Warn("Comment owner lookup failed", "comment_id", evt.CommentID, "error", err)
			return uuid.Nil
		}
		return comment.UserID
	}
	if evt.ThreadID != "" {
		thread, err := r.forum.GetThread(ctx, evt.ThreadID)
		if err != nil || thread == nil {
			r.log.Warn("Thread owner lookup failed", "thread_id", evt.ThreadID, "error", err)
			return uuid.Nil
		}
		return thread.UserID
	}
	return uuid.Nil
}

func (r *Router) apply(ctx context.Context, evt Event, userID uuid.UUID, metric scoring.Metric, direction scoring.Direction) {
	if userID == uuid.Nil || metric == "" {
		return
	}
	delta := scoring.ScoreDelta{
		UserID:    userID,
		CourseID:  evt.CourseID,
		Metrics:   map[scoring.Metric]int{metric: 1},
		Direction: direction,
	}
	if err := r.engine.ApplyDelta(ctx, delta); err != nil {
		r.log.Error("Delta failed", "event", evt.Type, "user_id", userID, "metric", metric, "error", err)
	}
}
