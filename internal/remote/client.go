package remote

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

	"github.com/kilupskalvis/modsync/internal/models"
)

// ModuleClient is the source of truth for a course's modules. It matches the
// remote contract the mutation coordinator depends on.
type ModuleClient interface {
	Fetch(ctx context.Context, courseID string) ([]models.Module, error)
	Create(ctx context.Context, courseID string, fields models.ModuleFields) (models.Module, error)
	Update(ctx context.Context, id string, patch models.ModulePatch) (models.Module, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, courseID string, positions []models.PositionUpdate) error
}

// HTTPClient implements ModuleClient over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based module client.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) courseURL(courseID, path string) string {
	return fmt.Sprintf("%s/api/v1/courses/%s%s", c.baseURL, url.PathEscape(courseID), path)
}

func (c *HTTPClient) moduleURL(id string) string {
	return fmt.Sprintf("%s/api/v1/modules/%s", c.baseURL, url.PathEscape(id))
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Fetch returns the course's modules ordered by position.
func (c *HTTPClient) Fetch(ctx context.Context, courseID string) ([]models.Module, error) {
	var mods []models.Module
	if err := c.doJSON(ctx, http.MethodGet, c.courseURL(courseID, "/modules"), nil, &mods); err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return mods, nil
}

// Create appends a module to the course.
func (c *HTTPClient) Create(ctx context.Context, courseID string, fields models.ModuleFields) (models.Module, error) {
	var m models.Module
	if err := c.doJSON(ctx, http.MethodPost, c.courseURL(courseID, "/modules"), fields, &m); err != nil {
		return models.Module{}, fmt.Errorf("create module: %w", err)
	}
	return m, nil
}

// Update patches a module's title or description.
func (c *HTTPClient) Update(ctx context.Context, id string, patch models.ModulePatch) (models.Module, error) {
	var m models.Module
	if err := c.doJSON(ctx, http.MethodPatch, c.moduleURL(id), patch, &m); err != nil {
		return models.Module{}, fmt.Errorf("update module %s: %w", id, err)
	}
	return m, nil
}

// Delete removes a module. The server renumbers the remaining siblings.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.moduleURL(id), nil, nil); err != nil {
		return fmt.Errorf("delete module %s: %w", id, err)
	}
	return nil
}

// Reorder replaces every position in the course in one request.
func (c *HTTPClient) Reorder(ctx context.Context, courseID string, positions []models.PositionUpdate) error {
	req := &ReorderRequest{Positions: positions}
	if err := c.doJSON(ctx, http.MethodPut, c.courseURL(courseID, "/modules/order"), req, nil); err != nil {
		return fmt.Errorf("reorder modules: %w", err)
	}
	return nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// UserMessage returns the server's human-readable explanation.
func (e *RemoteError) UserMessage() string { return e.Message }

// NotFound reports whether the server answered 404.
func (e *RemoteError) NotFound() bool { return e.Status == http.StatusNotFound }

// IsNotFound reports whether err wraps a 404 from the server.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.NotFound()
}

// IsConflict reports whether err wraps a 409 from the server.
func IsConflict(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusConflict
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
