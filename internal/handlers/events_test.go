package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openlearnhq/engagement-backend/internal/events"
	"github.com/openlearnhq/engagement-backend/internal/logger"
)

type capturingQueue struct {
	taskType string
	payload  interface{}
	err      error
}

func (q *capturingQueue) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	q.taskType = taskType
	q.payload = payload
	return nil
}

func postEvent(t *testing.T, handler *EventsHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/events/forum", handler.Receive)
	req := httptest.NewRequest(http.MethodPost, "/events/forum", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestEventsHandler_Receive_AcceptsAndQueues(t *testing.T) {
	queue := &capturingQueue{}
	handler := NewEventsHandler(logger.NewNop(), queue)
	actor := uuid.New()

	body, _ := json.Marshal(events.Event{Type: events.ThreadCreated, CourseID: "course-1", ActorID: actor})
	rec := postEvent(t, handler, string(body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if queue.taskType != events.TaskForumEvent {
		t.Fatalf("task type = %s, want %s", queue.taskType, events.TaskForumEvent)
	}
	queued, ok := queue.payload.(events.Event)
	if !ok {
		t.Fatalf("payload type = %T, want events.Event", queue.payload)
	}
	if queued.ActorID != actor {
		t.Fatalf("queued actor = %s, want %s", queued.ActorID, actor)
	}
}

func TestEventsHandler_Receive_RejectsMalformedBody(t *testing.T) {
	handler := NewEventsHandler(logger.NewNop(), &capturingQueue{})
	rec := postEvent(t, handler, "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEventsHandler_Receive_RejectsInvalidEvent(t *testing.T) {
	queue := &capturingQueue{}
	handler := NewEventsHandler(logger.NewNop(), queue)

	rec := postEvent(t, handler, `{"type":"thread_created","course_id":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if queue.taskType != "" {
		t.Fatal("invalid event must not be queued")
	}
}
