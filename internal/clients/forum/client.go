package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/utils"
)

// Thread is the subset of a forum thread this service needs for indirect
// target resolution.
type Thread struct {
	ID       string    `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	CourseID string    `json:"course_id"`
}

// Comment is the subset of a forum comment this service needs. ParentID is
// empty for top-level responses.
type Comment struct {
	ID       string    `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	ThreadID string    `json:"thread_id"`
	ParentID string    `json:"parent_id,omitempty"`
}

// Client talks to the discussion service. Lookups return (nil, nil) when the
// entity does not exist; callers treat that as nothing-to-do.
type Client interface {
	// GetUserSocialStats fetches the per-metric activity snapshot for one
	// user scoped to a course. Activity after endDate is excluded, so closed
	// courses can be recomputed without counting post-closure posts. Returns
	// nil when the user has no activity.
	GetUserSocialStats(ctx context.Context, userID uuid.UUID, courseID string, endDate *time.Time) (map[string]int, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	GetComment(ctx context.Context, commentID string) (*Comment, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimRight(utils.GetEnv("FORUM_SERVICE_URL", "", log), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing FORUM_SERVICE_URL")
	}
	timeoutSeconds := utils.GetEnvAsInt("FORUM_HTTP_TIMEOUT_SECONDS", 15, log)
	return &client{
		log:        log.With("client", "ForumClient"),
		baseURL:    baseURL,
		apiKey:     utils.GetEnv("FORUM_API_KEY", "", log),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		maxRetries: utils.GetEnvAsInt("FORUM_HTTP_MAX_RETRIES", 2, log),
	}, nil
}

func (c *client) GetUserSocialStats(ctx context.Context, userID uuid.UUID, courseID string, endDate *time.Time) (map[string]int, error) {
	if userID == uuid.Nil || courseID == "" {
		return nil, nil
	}
	query := url.Values{}
	query.Set("course_id", courseID)
	if endDate != nil {
		query.Set("end_date", endDate.UTC().Format(time.RFC3339))
	}
	path := fmt.Sprintf("/api/v1/users/%s/social_stats?%s", userID, query.Encode())

	body, found, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	// The service keys the response by user id string, even for a
	// single-user query.
	var byUser map[string]map[string]int
	if err := json.Unmarshal(body, &byUser); err != nil {
		return nil, fmt.Errorf("decode social stats: %w", err)
	}
	stats, ok := byUser[userID.String()]
	if !ok {
		return nil, nil
	}
	return stats, nil
}

func (c *client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	if threadID == "" {
		return nil, nil
	}
	body, found, err := c.get(ctx, "/api/v1/threads/"+url.PathEscape(threadID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var thread Thread
	if err := json.Unmarshal(body, &thread); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return &thread, nil
}

func (c *client) GetComment(ctx context.Context, commentID string) (*Comment, error) {
	if commentID == "" {
		return nil, nil
	}
	body, found, err := c.get(ctx, "/api/v1/comments/"+url.PathEscape(commentID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var comment Comment
	if err := json.Unmarshal(body, &comment); err != nil {
		return nil, fmt.Errorf("decode comment %s: %w", commentID, err)
	}
	return &comment, nil
}

// get performs a GET with retries on retryable statuses. found is false on
// 404.
func (c *client) get(ctx context.Context, path string) (body []byte, found bool, err error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, false, nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return raw, true, nil
		case isRetryableStatus(resp.StatusCode):
			lastErr = fmt.Errorf("forum service returned %d for %s", resp.StatusCode, path)
			continue
		default:
			return nil, false, fmt.Errorf("forum service returned %d for %s", resp.StatusCode, path)
		}
	}
	return nil, false, fmt.Errorf("forum request %s failed: %w", path, lastErr)
}

func isRetryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}
