package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openlearnhq/engagement-backend/internal/handlers"
	"github.com/openlearnhq/engagement-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName       string
	AllowOrigins      []string
	EventsHandler     *handlers.EventsHandler
	EngagementHandler *handlers.EngagementHandler
	AuthMiddleware    *middleware.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))

	if len(cfg.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
		}))
	}

	router.GET("/healthcheck", handlers.HealthCheck)

	// The forum bus posts events here; scoped separately from admin access.
	eventsGroup := router.Group("/events")
	eventsGroup.Use(cfg.AuthMiddleware.RequireScope("events"))
	eventsGroup.POST("/forum", cfg.EventsHandler.Receive)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireScope("admin"))
	{
		api.GET("/courses/:course_id/engagement/users/:user_id", cfg.EngagementHandler.GetUserScore)
		api.GET("/courses/:course_id/engagement/average", cfg.EngagementHandler.GetCourseAverage)
		api.GET("/courses/:course_id/engagement/leaderboard", cfg.EngagementHandler.GetLeaderboard)
		api.POST("/courses/:course_id/engagement/recompute", cfg.EngagementHandler.RecomputeCourse)
		api.POST("/courses/:course_id/engagement/users/:user_id/recompute", cfg.EngagementHandler.RecomputeUser)
		api.POST("/engagement/recompute_all", cfg.EngagementHandler.RecomputeAll)
		api.GET("/tasks/:task_id", cfg.EngagementHandler.GetTaskStatus)
	}

	return router
}
