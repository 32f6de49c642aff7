package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// AdminClient talks to the server's /admin/ endpoints. Unlike HTTPClient it
// is authenticated with the admin token rather than a course token.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdminClient creates an admin API client. Warns if baseURL uses http://.
func NewAdminClient(baseURL, token string) *AdminClient {
	if strings.HasPrefix(baseURL, "http://") {
		fmt.Fprintf(os.Stderr, "warning: sending credentials over unencrypted HTTP connection\n")
	}
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// adminTokenCreateReq is the request body for POST /admin/tokens.
type adminTokenCreateReq struct {
	Description string   `json:"description"`
	Courses     []string `json:"courses"`
	Permission  string   `json:"permission"`
}

// AdminTokenCreateResponse is the decoded response from POST /admin/tokens.
// Exported so callers can read the raw token and its metadata.
type AdminTokenCreateResponse struct {
	Token       string   `json:"token"`
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Courses     []string `json:"courses"`
	Permission  string   `json:"permission"`
}

// AdminTokenInfo is one entry in the GET /admin/tokens response.
type AdminTokenInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Courses     []string `json:"courses"`
	Permission  string   `json:"permission"`
}

func (c *AdminClient) do(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func (c *AdminClient) doJSON(ctx context.Context, method, target string, reqBody, respBody any) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.do(ctx, method, target, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateToken calls POST /admin/tokens and returns the newly created token.
// The raw token is only present in this response; the server keeps a hash.
func (c *AdminClient) CreateToken(ctx context.Context, desc string, courses []string, permission string) (*AdminTokenCreateResponse, error) {
	req := adminTokenCreateReq{Description: desc, Courses: courses, Permission: permission}
	var resp AdminTokenCreateResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/admin/tokens", req, &resp); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

// ListTokens returns metadata for every token.
func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	var tokens []AdminTokenInfo
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/admin/tokens", nil, &tokens); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken calls DELETE /admin/tokens/{id}.
func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.baseURL+"/admin/tokens/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete token: %w", decodeError(resp))
	}
	return nil
}

// Compact renumbers a course's modules to 1..N on the server.
func (c *AdminClient) Compact(ctx context.Context, courseID string) (*CompactResponse, error) {
	var resp CompactResponse
	u := c.baseURL + "/admin/courses/" + url.PathEscape(courseID) + "/compact"
	if err := c.doJSON(ctx, http.MethodPost, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("compact %s: %w", courseID, err)
	}
	return &resp, nil
}
