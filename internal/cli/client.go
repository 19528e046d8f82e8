package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blueballs/internal/auth"
	"blueballs/internal/game"
	"blueballs/internal/syncq"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx answer from the API. Anything else returned by the
// client is a transport failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// Retryable reports whether a later replay could succeed. A version conflict
// that outlived the server's own retries is worth sending again.
func (e *APIError) Retryable() bool {
	switch {
	case e.Status >= 500, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status == http.StatusConflict:
		return !strings.Contains(e.Message, "duplicate")
	}
	return false
}

type ProfileResponse struct {
	Profile     game.Profile `json:"profile"`
	Progression game.Account `json:"progression"`
	LivesNow    int64        `json:"lives_now"`
	NextLifeAt  *time.Time   `json:"next_life_at"`
}

type RegenResponse struct {
	Profile     game.Account `json:"profile"`
	Lives       int64        `json:"lives"`
	MaxLives    int64        `json:"max_lives"`
	LivesGained int64        `json:"lives_gained"`
	NextLifeAt  *time.Time   `json:"next_life_at"`
}

type SubmitResponse struct {
	Profile        game.Account `json:"profile"`
	Run            game.Run     `json:"run"`
	IsNewHighScore bool         `json:"is_new_high_score"`
	LevelUp        bool         `json:"level_up"`
	RankUp         bool         `json:"rank_up"`
	LivesGained    int64        `json:"lives_gained"`
	NextLifeAt     *time.Time   `json:"next_life_at"`
}

type LeaderboardResponse struct {
	Board  game.Board            `json:"board"`
	Region game.Region           `json:"region"`
	Rows   []game.LeaderboardRow `json:"rows"`
}

type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, username, countryCode string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":        email,
		"password":     password,
		"username":     username,
		"country_code": countryCode,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Profile(ctx context.Context, accessToken string) (ProfileResponse, error) {
	var out ProfileResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/profile", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) RegenLives(ctx context.Context, accessToken string) (RegenResponse, error) {
	var out RegenResponse
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/lives/regen", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) SubmitScore(ctx context.Context, accessToken string, body map[string]any, idem string) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/scores", accessToken, body, &out, idem)
	return out, err
}

func (c *Client) Runs(ctx context.Context, accessToken string, limit int) ([]game.Run, error) {
	var out struct {
		Runs []game.Run `json:"runs"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/runs?limit="+strconv.Itoa(limit), accessToken, nil, &out, "")
	return out.Runs, err
}

func (c *Client) Leaderboard(ctx context.Context, accessToken, board, region, scope string) (LeaderboardResponse, error) {
	q := url.Values{}
	if board != "" {
		q.Set("board", board)
	}
	if region != "" {
		q.Set("region", region)
	}
	if scope != "" {
		q.Set("scope", scope)
	}
	path := "/v1/leaderboard"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out LeaderboardResponse
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) AddFriend(ctx context.Context, accessToken, inviteCode string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/friends", accessToken, map[string]any{
		"invite_code": inviteCode,
	}, &out, "")
	return out, err
}

func (c *Client) RemoveFriend(ctx context.Context, accessToken, inviteCode string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, "/v1/friends/"+url.PathEscape(inviteCode), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Notifications(ctx context.Context, accessToken string) (NotificationsResponse, error) {
	var out NotificationsResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/notifications", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, accessToken string, id int64) error {
	return c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/notifications/%d/read", id), accessToken, nil, nil, "")
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, accessToken string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/notifications/read-all", accessToken, nil, nil, "")
}

type ReplayResult struct {
	Submission syncq.Submission
	Err        error
}

// Replay sends queued submissions in order with their original idempotency
// keys. Submissions that hit a transport error or a retryable status are
// returned as remaining; everything else, including duplicates, is settled.
func (c *Client) Replay(ctx context.Context, accessToken string, queue []syncq.Submission) (remaining []syncq.Submission, results []ReplayResult) {
	remaining = make([]syncq.Submission, 0, len(queue))
	for _, q := range queue {
		_, err := c.SubmitScore(ctx, accessToken, q.Body(), q.IdempotencyKey)
		results = append(results, ReplayResult{Submission: q, Err: err})
		if err != nil && !IsPermanent(err) {
			remaining = append(remaining, q)
		}
	}
	return remaining, results
}

// IsPermanent reports whether err is an API answer that resending cannot
// change.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Retryable()
}

// IsDuplicate reports whether the API saw this idempotency key before.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && strings.Contains(apiErr.Message, "duplicate")
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
