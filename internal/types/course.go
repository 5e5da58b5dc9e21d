package types

import (
	"time"
)

// Course mirrors the catalog entry this service needs: identity plus the
// window that decides whether engagement bookkeeping is still allowed to run.
type Course struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Title     string     `gorm:"column:title;not null" json:"title"`
	StartsAt  *time.Time `gorm:"column:starts_at" json:"starts_at,omitempty"`
	EndsAt    *time.Time `gorm:"column:ends_at;index" json:"ends_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Course) TableName() string { return "course" }

// Closed reports whether the course end date has passed. Courses without an
// end date never close.
func (c *Course) Closed(now time.Time) bool {
	return c.EndsAt != nil && now.After(*c.EndsAt)
}
