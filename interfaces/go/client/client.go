// Package client talks to a running simctl server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"simctl/internal/domain"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError is the server's error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// StartRequest mirrors the start endpoint; nil fields use server settings.
type StartRequest struct {
	URL           string `json:"url,omitempty"`
	Iterations    *int   `json:"iterations,omitempty"`
	MinInterval   *int   `json:"minInterval,omitempty"`
	MaxInterval   *int   `json:"maxInterval,omitempty"`
	RotateIP      *bool  `json:"rotateIp,omitempty"`
	RandomProfile *bool  `json:"randomProfile,omitempty"`
	TransportMode string `json:"transportMode,omitempty"`
}

type CommandResult struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Session *domain.Session `json:"session,omitempty"`
}

func (c *Client) Start(ctx context.Context, req StartRequest) (CommandResult, error) {
	var out CommandResult
	err := c.do(ctx, http.MethodPost, "/api/v1/session/start", req, &out)
	return out, err
}

// Command posts one of pause, resume, stop or restore.
func (c *Client) Command(ctx context.Context, name string) (CommandResult, error) {
	switch name {
	case "pause", "resume", "stop", "restore":
	default:
		return CommandResult{}, fmt.Errorf("unknown command %q", name)
	}
	var out CommandResult
	err := c.do(ctx, http.MethodPost, "/api/v1/session/"+name, nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var out domain.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/session/status", nil, &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (domain.Settings, error) {
	var out domain.Settings
	err := c.do(ctx, http.MethodGet, "/api/v1/settings", nil, &out)
	return out, err
}

// UpdateSettings sends a partial settings document.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (domain.Settings, error) {
	var out domain.Settings
	err := c.do(ctx, http.MethodPost, "/api/v1/settings", patch, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, int, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	var out struct {
		Items []domain.Session `json:"items"`
		Total int              `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions?"+q.Encode(), nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Items, out.Total, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var env struct {
			Error APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&env)
		env.Error.Status = resp.StatusCode
		if env.Error.Code == "" {
			env.Error.Code = http.StatusText(resp.StatusCode)
		}
		return &env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
