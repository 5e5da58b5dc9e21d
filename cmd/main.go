package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openlearnhq/engagement-backend/internal/clients/forum"
	redisclient "github.com/openlearnhq/engagement-backend/internal/clients/redis"
	"github.com/openlearnhq/engagement-backend/internal/db"
	"github.com/openlearnhq/engagement-backend/internal/events"
	"github.com/openlearnhq/engagement-backend/internal/handlers"
	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/middleware"
	"github.com/openlearnhq/engagement-backend/internal/observability"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/scoring"
	"github.com/openlearnhq/engagement-backend/internal/server"
	"github.com/openlearnhq/engagement-backend/internal/services"
	"github.com/openlearnhq/engagement-backend/internal/tasks"
	"github.com/openlearnhq/engagement-backend/internal/utils"
)

func main() {
	// Logger
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "engagement-backend",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	userRepo := repos.NewUserRepo(thePG, log)
	courseRepo := repos.NewCourseRepo(thePG, log)
	enrollmentRepo := repos.NewEnrollmentRepo(thePG, log)
	scoreRepo := repos.NewEngagementScoreRepo(thePG, log)
	historyRepo := repos.NewEngagementScoreHistoryRepo(thePG, log)
	taskRunRepo := repos.NewTaskRunRepo(thePG, log)

	// Redis (cache invalidation + rank notifications); scoring runs without
	// it when unavailable.
	var cache scoring.CacheInvalidator
	scoreCache, err := redisclient.NewScoreCache(log)
	if err != nil {
		log.Warn("Score cache disabled", "error", err)
	} else {
		cache = scoreCache
		defer scoreCache.Close()
	}
	var notifier scoring.RankNotifier
	rankNotifier, err := redisclient.NewRankNotifier(log)
	if err != nil {
		log.Warn("Rank notifications disabled", "error", err)
	} else {
		notifier = rankNotifier
		defer rankNotifier.Close()
	}

	// Forum service client
	forumClient, err := forum.NewClient(log)
	if err != nil {
		log.Fatal("Forum client init failed", "error", err)
	}

	// Scoring
	policy := scoring.LoadMetricPolicy(log)
	leaderboardService := services.NewLeaderboardService(log, scoreRepo, enrollmentRepo)
	var watcher *scoring.RankWatcher
	if notifier != nil {
		leaderboardSize := utils.GetEnvAsInt("LEADERBOARD_SIZE", 3, log)
		watcher = scoring.NewRankWatcher(log, leaderboardService, notifier, leaderboardSize)
	}
	engine := scoring.NewEngine(thePG, log, policy, scoreRepo, historyRepo, courseRepo, cache, watcher)
	recomputeConcurrency := utils.GetEnvAsInt("RECOMPUTE_CONCURRENCY", 4, log)
	recomputer := scoring.NewRecomputer(thePG, log, policy, forumClient, scoreRepo, historyRepo, courseRepo, enrollmentRepo, cache, watcher, recomputeConcurrency)
	router := events.NewRouter(log, policy, forumClient, userRepo, engine)

	// Task queue
	registry := tasks.NewRegistry()
	registry.Register(events.TaskForumEvent, func(ctx context.Context, payload []byte) error {
		var evt events.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return err
		}
		return router.Route(ctx, evt)
	})
	registry.Register(scoring.TaskUpdateUserScore, func(ctx context.Context, payload []byte) error {
		var p scoring.UpdateUserScorePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := recomputer.UpdateUserEngagementScore(ctx, p.CourseID, p.UserID, p.ComputeIfClosed, nil)
		return err
	})
	registry.Register(scoring.TaskRecomputeCourse, func(ctx context.Context, payload []byte) error {
		var p scoring.RecomputeCoursePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := recomputer.UpdateCourseEngagementScores(ctx, p.CourseID, p.ComputeIfClosed)
		return err
	})
	queue := tasks.NewStore(thePG, log, taskRunRepo)
	worker := tasks.NewWorker(thePG, log, taskRunRepo, registry, tasks.DefaultWorkerPolicy())
	worker.Start(ctx)

	// HTTP
	authService := services.NewAuthService(log)
	authMiddleware := middleware.NewAuthMiddleware(log, authService)
	eventsHandler := handlers.NewEventsHandler(log, queue)
	engagementHandler := handlers.NewEngagementHandler(log, leaderboardService, recomputer, queue, userRepo, taskRunRepo)

	ginRouter := server.NewRouter(server.RouterConfig{
		ServiceName:       "engagement-backend",
		AllowOrigins:      splitOrigins(utils.GetEnv("CORS_ALLOW_ORIGINS", "", log)),
		EventsHandler:     eventsHandler,
		EngagementHandler: engagementHandler,
		AuthMiddleware:    authMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting engagement backend", "port", port)
	go func() {
		if err := ginRouter.Run(":" + port); err != nil {
			log.Error("HTTP server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	if shutdownOtel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
