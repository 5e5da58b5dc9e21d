package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/scoring"
	"github.com/openlearnhq/engagement-backend/internal/services"
	"github.com/openlearnhq/engagement-backend/internal/tasks"
)

type EngagementHandler struct {
	log         *logger.Logger
	leaderboard services.LeaderboardService
	recomputer  *scoring.Recomputer
	queue       tasks.Queue
	users       repos.UserRepo
	taskRuns    repos.TaskRunRepo
}

func NewEngagementHandler(baseLog *logger.Logger, leaderboard services.LeaderboardService, recomputer *scoring.Recomputer, queue tasks.Queue, users repos.UserRepo, taskRuns repos.TaskRunRepo) *EngagementHandler {
	return &EngagementHandler{
		log:         baseLog.With("handler", "EngagementHandler"),
		leaderboard: leaderboard,
		recomputer:  recomputer,
		queue:       queue,
		users:       users,
		taskRuns:    taskRuns,
	}
}

func (h *EngagementHandler) GetUserScore(c *gin.Context) {
	courseID := c.Param("course_id")
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), nil, userID)
	if err != nil {
		h.log.Error("User lookup failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	score, err := h.leaderboard.GetUserEngagementScore(c.Request.Context(), courseID, userID)
	if err != nil {
		h.log.Error("User score lookup failed", "course_id", courseID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	position, err := h.leaderboard.GetUserLeaderboardPosition(c.Request.Context(), courseID, userID, excludeUsersParam(c))
	if err != nil {
		h.log.Error("Leaderboard position lookup failed", "course_id", courseID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	resolved := 0
	if score != nil {
		resolved = *score
	}
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "score": resolved, "position": position})
}

// GetTaskStatus reports the state of one queued unit of work, so operators
// can follow up on an accepted recompute.
func (h *EngagementHandler) GetTaskStatus(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
		return
	}
	task, err := h.taskRuns.GetByID(c.Request.Context(), nil, taskID)
	if err != nil {
		h.log.Error("Task lookup failed", "task_id", taskID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         task.ID,
		"task_type":  task.TaskType,
		"status":     task.Status,
		"attempts":   task.Attempts,
		"last_error": task.LastError,
	})
}

func (h *EngagementHandler) GetCourseAverage(c *gin.Context) {
	courseID := c.Param("course_id")
	average, err := h.leaderboard.GetCourseAverageEngagementScore(c.Request.Context(), courseID, excludeUsersParam(c))
	if err != nil {
		h.log.Error("Course average lookup failed", "course_id", courseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course_avg": average})
}

func (h *EngagementHandler) GetLeaderboard(c *gin.Context) {
	courseID := c.Param("course_id")
	count, _ := strconv.Atoi(c.DefaultQuery("count", "3"))
	entries, average, err := h.leaderboard.GenerateLeaderboard(c.Request.Context(), courseID, count, excludeUsersParam(c), uuidListParam(c, "org_ids"))
	if err != nil {
		h.log.Error("Leaderboard generation failed", "course_id", courseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course_avg": average, "leaders": entries})
}

func (h *EngagementHandler) RecomputeCourse(c *gin.Context) {
	courseID := c.Param("course_id")
	var req struct {
		ComputeIfClosed bool `json:"compute_if_closed"`
	}
	_ = c.ShouldBindJSON(&req)
	payload := scoring.RecomputeCoursePayload{CourseID: courseID, ComputeIfClosed: req.ComputeIfClosed}
	if err := h.queue.Enqueue(c.Request.Context(), scoring.TaskRecomputeCourse, payload); err != nil {
		h.log.Error("Failed to enqueue course recompute", "course_id", courseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule recompute"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *EngagementHandler) RecomputeUser(c *gin.Context) {
	courseID := c.Param("course_id")
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	var req struct {
		ComputeIfClosed bool `json:"compute_if_closed"`
	}
	_ = c.ShouldBindJSON(&req)
	payload := scoring.UpdateUserScorePayload{CourseID: courseID, UserID: userID, ComputeIfClosed: req.ComputeIfClosed}
	if err := h.queue.Enqueue(c.Request.Context(), scoring.TaskUpdateUserScore, payload); err != nil {
		h.log.Error("Failed to enqueue user recompute", "course_id", courseID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule recompute"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *EngagementHandler) RecomputeAll(c *gin.Context) {
	var req struct {
		OpenOnly     bool `json:"open_only"`
		InactiveOnly bool `json:"inactive_only"`
		MonthsBack   int  `json:"months_back"`
	}
	_ = c.ShouldBindJSON(&req)
	opts := scoring.RecomputeAllOptions{
		OpenOnly:     req.OpenOnly,
		InactiveOnly: req.InactiveOnly,
		MonthsBack:   req.MonthsBack,
	}
	enqueued, err := h.recomputer.RecomputeAll(c.Request.Context(), h.queue, opts)
	if err != nil {
		h.log.Error("Batch recompute dispatch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule recompute"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "courses": enqueued})
}

func excludeUsersParam(c *gin.Context) []uuid.UUID {
	return uuidListParam(c, "exclude_users")
}

func uuidListParam(c *gin.Context, name string) []uuid.UUID {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
