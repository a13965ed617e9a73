// Package backend is the REST client for the SafeWalk server: session
// creation, safe check-in, and the emergency contact check.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/msomdec/safewalk/internal/domain"
)

// Client is the SafeWalk API client.
type Client struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
}

// New creates an API client. deviceID is sent on every request so the server
// can bind sessions to the device.
func New(baseURL, token, deviceID string) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		deviceID: deviceID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type startWalkRequest struct {
	DurationMinutes int     `json:"durationMinutes"`
	StartLat        float64 `json:"startLat"`
	StartLon        float64 `json:"startLon"`
}

type startWalkResponse struct {
	SessionID string `json:"sessionId"`
}

// StartSession creates the walk session server-side and returns its id.
func (c *Client) StartSession(ctx context.Context, durationMinutes int, startLat, startLon float64) (string, error) {
	req := startWalkRequest{DurationMinutes: durationMinutes, StartLat: startLat, StartLon: startLon}
	var resp startWalkResponse
	if err := c.post(ctx, "/walk/start-walk", req, &resp); err != nil {
		return "", fmt.Errorf("backend.StartSession: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("backend.StartSession: %w: empty session id", domain.ErrBackendUnavailable)
	}
	return resp.SessionID, nil
}

type markSafeRequest struct {
	SessionID string `json:"sessionId"`
}

// MarkSafe reports a safe check-in for the session.
func (c *Client) MarkSafe(ctx context.Context, sessionID string) error {
	if err := c.post(ctx, "/walk/mark-safe", markSafeRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("backend.MarkSafe: %w", err)
	}
	return nil
}

type contactsResponse struct {
	AllContacts []json.RawMessage `json:"allContacts"`
}

// ContactCount returns the caller's current number of emergency contacts.
func (c *Client) ContactCount(ctx context.Context) (int, error) {
	var resp contactsResponse
	if err := c.get(ctx, "/contacts", &resp); err != nil {
		return 0, fmt.Errorf("backend.ContactCount: %w", err)
	}
	return len(resp.AllContacts), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A context cancellation is the caller's doing, not an outage.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			httpErr.Message = apiErr.Error
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, httpErr)
		}
		return httpErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// IsUnavailable reports whether err indicates the backend could not be
// reached or answered with a server error.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrBackendUnavailable)
}
