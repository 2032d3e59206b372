// Package pingpong provides a Go client for the pingpong room server.
package pingpong

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/osobh/pingpong-sub001/internal/handlers"
	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/room"
)

// DefaultBaseURL is the server address used when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// Client talks to the server's HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client for baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pingpong error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// Health checks server health. A degraded server answers 503, which is
// returned as an *APIError.
func (c *Client) Health(ctx context.Context) (*handlers.HealthResponse, error) {
	var resp handlers.HealthResponse
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rooms lists rooms, optionally filtered by topic.
func (c *Client) Rooms(ctx context.Context, topic string) ([]room.Summary, error) {
	path := "/rooms"
	if topic != "" {
		path += "?topic=" + url.QueryEscape(topic)
	}
	var resp handlers.RoomListResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// Room returns one room with its members.
func (c *Client) Room(ctx context.Context, roomID string) (*hub.RoomDetail, error) {
	var resp hub.RoomDetail
	if err := c.getJSON(ctx, "/rooms/"+url.PathEscape(roomID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom registers a new room. An empty mode selects the server default.
func (c *Client) CreateRoom(ctx context.Context, roomID, topic, mode string) (*room.Summary, error) {
	body, _ := json.Marshal(handlers.CreateRoomRequest{RoomID: roomID, Topic: topic, Mode: mode})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/rooms", body)
	if err != nil {
		return nil, err
	}
	var resp room.Summary
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseRoom closes a room and disconnects its members.
func (c *Client) CloseRoom(ctx context.Context, roomID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomID), nil)
	return err
}

// Messages returns recent room history, newest first. A zero before reads
// from the latest message.
func (c *Client) Messages(ctx context.Context, roomID string, limit int, before int64) (*handlers.RoomMessagesResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp handlers.RoomMessagesResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Proposals lists a room's proposals, optionally filtered by status.
func (c *Client) Proposals(ctx context.Context, roomID, status string) (*handlers.ProposalListResponse, error) {
	path := "/rooms/" + url.PathEscape(roomID) + "/proposals"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp handlers.ProposalListResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search finds recent messages containing every word of query. An empty
// roomID searches all rooms.
func (c *Client) Search(ctx context.Context, query, roomID string, limit int) (*handlers.SearchResponse, error) {
	q := url.Values{"q": {query}}
	if roomID != "" {
		q.Set("room", roomID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp handlers.SearchResponse
	if err := c.getJSON(ctx, "/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WebSocketURL derives the socket endpoint from the HTTP base URL.
func (c *Client) WebSocketURL() string {
	switch {
	case strings.HasPrefix(c.BaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.BaseURL, "https://") + "/ws"
	case strings.HasPrefix(c.BaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.BaseURL, "http://") + "/ws"
	}
	return c.BaseURL + "/ws"
}
