package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/session"
)

// Client executes session operations against a remote devchain instance
// over HTTP. Structured error payloads come back as the same typed errors
// the local service returns, so callers cannot tell the boundary apart.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a session client for a scope base URL.
func NewClient(baseURL string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "proxy-client")),
	}
}

// Launch starts a session in the remote scope.
func (c *Client) Launch(ctx context.Context, req session.LaunchRequest) (*session.Session, error) {
	var sess session.Session
	if err := c.post(ctx, "/sessions/launch", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Terminate ends a session in the remote scope.
func (c *Client) Terminate(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/sessions/%s/terminate", sessionID), nil, nil)
}

// Restart restarts an agent in the remote scope.
func (c *Client) Restart(ctx context.Context, req session.RestartRequest) (*session.RestartResult, error) {
	var result session.RestartResult
	if err := c.post(ctx, "/agents/restart", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scope request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var payload apperrors.Payload
		if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr != nil || payload.Kind == "" {
			return fmt.Errorf("scope request failed with status %d", resp.StatusCode)
		}
		return payload.Err()
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
