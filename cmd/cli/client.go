package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourusername/episode-offline-go/internal/domain"
	"github.com/yourusername/episode-offline-go/pkg/logger"
)

// apiClient talks to the episode offline server
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response from the server
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do sends a request and decodes a JSON response into out when out is non-nil
func (c *apiClient) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) Add(req domain.JobRequest) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(http.MethodPost, "/api/v1/downloads", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) List(parentID, status string) ([]domain.Job, error) {
	q := url.Values{}
	if parentID != "" {
		q.Set("parent_id", parentID)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/v1/downloads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []domain.Job
	err := c.do(http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// downloadDetail is the GET /api/v1/downloads/:id payload
type downloadDetail struct {
	Download domain.Job `json:"download"`
	Active   bool       `json:"active"`
}

func (c *apiClient) Get(id string) (*downloadDetail, error) {
	var detail downloadDetail
	if err := c.do(http.MethodGet, "/api/v1/downloads/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// statsResponse is the GET /api/v1/downloads/stats payload
type statsResponse struct {
	Stats  domain.JobStats `json:"stats"`
	Active int             `json:"active"`
	Queued int             `json:"queued"`
}

func (c *apiClient) Stats() (*statsResponse, error) {
	var stats statsResponse
	if err := c.do(http.MethodGet, "/api/v1/downloads/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *apiClient) Cancel(id string) error {
	return c.do(http.MethodPost, "/api/v1/downloads/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *apiClient) Delete(id string) error {
	return c.do(http.MethodDelete, "/api/v1/downloads/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) History(id string, days int) ([]logger.LogEntry, error) {
	var result struct {
		Entries []logger.LogEntry `json:"entries"`
	}
	path := fmt.Sprintf("/api/v1/downloads/%s/history?days=%d", url.PathEscape(id), days)
	err := c.do(http.MethodGet, path, nil, &result)
	return result.Entries, err
}

func (c *apiClient) CacheSize(id string) (int64, error) {
	var result struct {
		Bytes int64 `json:"bytes"`
	}
	err := c.do(http.MethodGet, "/api/v1/cache/"+url.PathEscape(id)+"/size", nil, &result)
	return result.Bytes, err
}

func (c *apiClient) ClearCache() error {
	return c.do(http.MethodDelete, "/api/v1/cache", nil, nil)
}

// progressFrame mirrors the frames of the progress WebSocket
type progressFrame struct {
	Type     string                `json:"type"`
	Download *domain.Job           `json:"download,omitempty"`
	Event    *domain.ProgressEvent `json:"event,omitempty"`
}

// Watch streams progress frames of id to fn until the server closes the stream or ctx ends
func (c *apiClient) Watch(ctx context.Context, id string, fn func(progressFrame)) error {
	u, err := url.Parse(c.baseURL + "/api/v1/downloads/" + url.PathEscape(id) + "/progress")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &apiError{Status: resp.StatusCode, Message: "progress stream unavailable"}
		}
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var frame progressFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		fn(frame)
	}
}

// isNotFound reports whether err is a 404 from the server
func isNotFound(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
