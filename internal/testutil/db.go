package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openlearnhq/engagement-backend/internal/types"
)

var dbSeq int64

// schema mirrors the production tables with sqlite-compatible defaults. The
// production DDL uses now(), which sqlite rejects, so AutoMigrate is not an
// option here.
var schema = []string{
	`CREATE TABLE "user" (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		organization_id TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE course (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		starts_at DATETIME,
		ends_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE course_enrollment (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, course_id)
	)`,
	`CREATE TABLE engagement_score (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		num_threads INTEGER NOT NULL DEFAULT 0,
		num_comments INTEGER NOT NULL DEFAULT 0,
		num_replies INTEGER NOT NULL DEFAULT 0,
		num_upvotes INTEGER NOT NULL DEFAULT 0,
		num_downvotes INTEGER NOT NULL DEFAULT 0,
		num_thread_followers INTEGER NOT NULL DEFAULT 0,
		num_comments_generated INTEGER NOT NULL DEFAULT 0,
		num_threads_read INTEGER NOT NULL DEFAULT 0,
		num_flagged INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, course_id)
	)`,
	`CREATE TABLE engagement_score_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE task_run (
		id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_error_at DATETIME,
		started_at DATETIME,
		finished_at DATETIME,
		heartbeat_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// NewDB opens a fresh in-memory database with the service schema. Each call
// gets its own database; the single-connection pool keeps it alive for the
// test's duration.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:engagement_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	for _, ddl := range schema {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func SeedUser(t *testing.T, db *gorm.DB, username string) *types.User {
	t.Helper()
	row := &types.User{
		ID:       uuid.New(),
		Username: username,
		Email:    username + "@example.org",
		IsActive: true,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return row
}

// DeactivateUser flips is_active directly; gorm drops zero-valued fields with
// a column default from inserts, so seeding inactive rows needs the update.
func DeactivateUser(t *testing.T, db *gorm.DB, id uuid.UUID) {
	t.Helper()
	if err := db.Model(&types.User{}).Where("id = ?", id).UpdateColumn("is_active", false).Error; err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
}

func SeedCourse(t *testing.T, db *gorm.DB, id string, endsAt *time.Time) *types.Course {
	t.Helper()
	row := &types.Course{
		ID:     id,
		Title:  "Course " + id,
		EndsAt: endsAt,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed course %s: %v", id, err)
	}
	return row
}

func SeedEnrollment(t *testing.T, db *gorm.DB, userID uuid.UUID, courseID string, active bool) *types.CourseEnrollment {
	t.Helper()
	row := &types.CourseEnrollment{
		ID:       uuid.New(),
		UserID:   userID,
		CourseID: courseID,
		IsActive: true,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}
	if !active {
		if err := db.Model(&types.CourseEnrollment{}).Where("id = ?", row.ID).UpdateColumn("is_active", false).Error; err != nil {
			t.Fatalf("deactivate enrollment: %v", err)
		}
		row.IsActive = false
	}
	return row
}
