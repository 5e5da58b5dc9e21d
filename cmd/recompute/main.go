package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/openlearnhq/engagement-backend/internal/clients/forum"
	"github.com/openlearnhq/engagement-backend/internal/db"
	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/scoring"
	"github.com/openlearnhq/engagement-backend/internal/tasks"
	"github.com/openlearnhq/engagement-backend/internal/utils"
)

// Offline rebuild of engagement aggregates from forum service statistics.
// Runs course recomputes synchronously in this process rather than through
// the task worker.
func main() {
	courseID := flag.String("course", "", "recompute a single course by id")
	all := flag.Bool("all", false, "recompute every course")
	openOnly := flag.Bool("open-only", false, "with -all, restrict to courses that have not ended")
	inactiveOnly := flag.Bool("inactive-only", false, "with -all, restrict to courses that have ended")
	monthsBack := flag.Int("months-back", 0, "with -all, restrict to courses that ended within the last N months")
	force := flag.Bool("force", false, "with -course, recompute even if the course has ended")
	flag.Parse()

	if (*courseID == "") == !*all {
		fmt.Fprintln(os.Stderr, "exactly one of -course or -all is required")
		flag.Usage()
		os.Exit(2)
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	scoreRepo := repos.NewEngagementScoreRepo(thePG, log)
	historyRepo := repos.NewEngagementScoreHistoryRepo(thePG, log)
	courseRepo := repos.NewCourseRepo(thePG, log)
	enrollmentRepo := repos.NewEnrollmentRepo(thePG, log)

	forumClient, err := forum.NewClient(log)
	if err != nil {
		log.Fatal("Forum client init failed", "error", err)
	}

	policy := scoring.LoadMetricPolicy(log)
	concurrency := utils.GetEnvAsInt("RECOMPUTE_CONCURRENCY", 4, log)
	recomputer := scoring.NewRecomputer(thePG, log, policy, forumClient, scoreRepo, historyRepo, courseRepo, enrollmentRepo, nil, nil, concurrency)

	if *courseID != "" {
		updated, err := recomputer.UpdateCourseEngagementScores(ctx, *courseID, *force)
		if err != nil {
			log.Fatal("Course recompute failed", "course_id", *courseID, "error", err)
		}
		log.Info("Course recompute finished", "course_id", *courseID, "users_updated", updated)
		return
	}

	// -all: run each selected course inline instead of enqueueing for the
	// worker.
	registry := tasks.NewRegistry()
	registry.Register(scoring.TaskRecomputeCourse, func(ctx context.Context, payload []byte) error {
		var p scoring.RecomputeCoursePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		updated, err := recomputer.UpdateCourseEngagementScores(ctx, p.CourseID, p.ComputeIfClosed)
		if err != nil {
			return err
		}
		log.Info("Course recompute finished", "course_id", p.CourseID, "users_updated", updated)
		return nil
	})
	queue := tasks.NewSyncQueue(registry)

	courses, err := recomputer.RecomputeAll(ctx, queue, scoring.RecomputeAllOptions{
		OpenOnly:     *openOnly,
		InactiveOnly: *inactiveOnly,
		MonthsBack:   *monthsBack,
	})
	if err != nil {
		log.Fatal("Batch recompute failed", "error", err)
	}
	log.Info("Batch recompute finished", "courses", courses)
}
