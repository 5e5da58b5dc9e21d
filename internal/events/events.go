package events

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskForumEvent is the task type under which forum events are queued for
// asynchronous routing.
const TaskForumEvent = "forum_event"

// EventType names a forum domain event this service subscribes to.
type EventType string

const (
	ThreadCreated          EventType = "thread_created"
	CommentCreated         EventType = "comment_created"
	ThreadDeleted          EventType = "thread_deleted"
	CommentDeleted         EventType = "comment_deleted"
	ThreadVoted            EventType = "thread_voted"
	CommentVoted           EventType = "comment_voted"
	ThreadFollowed         EventType = "thread_followed"
	ThreadUnfollowed       EventType = "thread_unfollowed"
	ThreadOrCommentFlagged EventType = "thread_or_comment_flagged"
)

var knownTypes = map[EventType]bool{
	ThreadCreated:          true,
	CommentCreated:         true,
	ThreadDeleted:          true,
	CommentDeleted:         true,
	ThreadVoted:            true,
	CommentVoted:           true,
	ThreadFollowed:         true,
	ThreadUnfollowed:       true,
	ThreadOrCommentFlagged: true,
}

// Event is the payload the forum bus delivers. Identifier fields are filled
// as far as the bus knows them; the router resolves indirect targets (thread
// and parent-comment authors) through forum lookups.
type Event struct {
	Type     EventType `json:"type"`
	CourseID string    `json:"course_id"`
	// ActorID is the user who performed the action.
	ActorID uuid.UUID `json:"actor_id"`
	// OwnerID is the author of the content acted upon, when the bus carries
	// it on the payload.
	OwnerID   uuid.UUID `json:"owner_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	CommentID string    `json:"comment_id,omitempty"`
	// ParentID set means the comment is a nested reply to another comment.
	ParentID string `json:"parent_id,omitempty"`
	// Undo marks a vote or flag being retracted.
	Undo bool `json:"undo,omitempty"`
	// InvolvedUsers is the per-user contribution breakdown attached to
	// deletion events, keyed by username then metric name. The forum side
	// computes it before deleting, since the subtree is gone afterwards.
	InvolvedUsers map[string]map[string]int `json:"involved_users,omitempty"`
}

func (e Event) Validate() error {
	if !knownTypes[e.Type] {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.CourseID == "" {
		return fmt.Errorf("event %s missing course_id", e.Type)
	}
	switch e.Type {
	case ThreadDeleted, CommentDeleted:
		// Deletions fan out over the precomputed breakdown; an actor is not
		// required.
	default:
		if e.ActorID == uuid.Nil {
			return fmt.Errorf("event %s missing actor_id", e.Type)
		}
	}
	return nil
}
