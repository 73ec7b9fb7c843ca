package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"

	"palchat/internal/models"
)

var ErrNotFound = errors.New("history: conversation not found")

// Client fetches history over HTTP.
type Client struct {
	http *req.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: req.C().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(15 * time.Second),
	}
}

// HTTP exposes the underlying client so collaborators can install middleware.
func (c *Client) HTTP() *req.Client {
	return c.http
}

// Fetch reads GET /chat/history/{thread_id}. A thread with no messages yet is
// an empty snapshot, an unknown one is ErrNotFound.
func (c *Client) Fetch(ctx context.Context, threadID string) (Snapshot, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("thread_id", threadID).
		Get("/chat/history/{thread_id}")
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch history %s: %w", threadID, err)
	}
	body := resp.Bytes()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Snapshot{}, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail := gjson.GetBytes(body, "detail").String()
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return Snapshot{}, fmt.Errorf("fetch history %s: status %d: %s", threadID, resp.StatusCode, detail)
	}

	var hr models.HistoryResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return Snapshot{}, fmt.Errorf("decode history %s: %w", threadID, err)
	}
	if hr.ThreadID == "" {
		hr.ThreadID = threadID
	}
	return FromResponse(hr), nil
}
