package types

import (
	"time"

	"github.com/google/uuid"
)

// EngagementScoreHistory is the append-only audit trail: one row per save of
// an EngagementScore. Rows are never updated or deleted by this service.
type EngagementScoreHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	CourseID  string    `gorm:"not null;index" json:"course_id"`
	Score     int       `gorm:"column:score;not null" json:"score"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (EngagementScoreHistory) TableName() string { return "engagement_score_history" }
