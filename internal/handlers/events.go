package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openlearnhq/engagement-backend/internal/events"
	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/tasks"
)

// EventsHandler is the intake for forum bus webhooks. It validates the
// payload shape and defers all routing to the task queue; scoring never runs
// on the request goroutine.
type EventsHandler struct {
	log   *logger.Logger
	queue tasks.Queue
}

func NewEventsHandler(baseLog *logger.Logger, queue tasks.Queue) *EventsHandler {
	return &EventsHandler{
		log:   baseLog.With("handler", "EventsHandler"),
		queue: queue,
	}
}

func (h *EventsHandler) Receive(c *gin.Context) {
	var evt events.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := evt.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.queue.Enqueue(c.Request.Context(), events.TaskForumEvent, evt); err != nil {
		h.log.Error("Failed to enqueue forum event", "event", evt.Type, "course_id", evt.CourseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
