package types

import (
	"time"

	"github.com/google/uuid"
)

// EngagementScore is the per-(user, course) aggregate: the weighted total plus
// one column per countable forum metric. The score column always equals the
// weighted sum of the counters under the active metric policy; bulk
// recomputation re-establishes that equality when weights change.
type EngagementScore struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index:idx_engagement_user_course,unique" json:"user_id"`
	User     *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	CourseID string    `gorm:"not null;index:idx_engagement_user_course,unique;index" json:"course_id"`
	Score    int       `gorm:"column:score;not null;default:0;index" json:"score"`

	NumThreads           int `gorm:"column:num_threads;not null;default:0" json:"num_threads"`
	NumComments          int `gorm:"column:num_comments;not null;default:0" json:"num_comments"`
	NumReplies           int `gorm:"column:num_replies;not null;default:0" json:"num_replies"`
	NumUpvotes           int `gorm:"column:num_upvotes;not null;default:0" json:"num_upvotes"`
	NumDownvotes         int `gorm:"column:num_downvotes;not null;default:0" json:"num_downvotes"`
	NumThreadFollowers   int `gorm:"column:num_thread_followers;not null;default:0" json:"num_thread_followers"`
	NumCommentsGenerated int `gorm:"column:num_comments_generated;not null;default:0" json:"num_comments_generated"`
	NumThreadsRead       int `gorm:"column:num_threads_read;not null;default:0" json:"num_threads_read"`
	NumFlagged           int `gorm:"column:num_flagged;not null;default:0" json:"num_flagged"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (EngagementScore) TableName() string { return "engagement_score" }

// Counters returns the metric counters keyed by column name.
func (s *EngagementScore) Counters() map[string]int {
	return map[string]int{
		"num_threads":            s.NumThreads,
		"num_comments":           s.NumComments,
		"num_replies":            s.NumReplies,
		"num_upvotes":            s.NumUpvotes,
		"num_downvotes":          s.NumDownvotes,
		"num_thread_followers":   s.NumThreadFollowers,
		"num_comments_generated": s.NumCommentsGenerated,
		"num_threads_read":       s.NumThreadsRead,
		"num_flagged":            s.NumFlagged,
	}
}
