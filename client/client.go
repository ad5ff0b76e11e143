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

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/appforge"
)

const (
	defaultTimeout   = 3 * time.Second
	defaultUserAgent = "appforge-client"
)

// Client talks to an appforge server. Live views are cached locally and
// dropped whenever this client changes the application or Invalidate is
// called, for example on a realtime event.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	baseURL   string
}

// New creates a client for the server at baseURL, e.g. "https://apps.example.com".
func New(baseURL string) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) HttpRequest(ctx context.Context, method, path string, body, response any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(response)
	if err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

func (c *Client) GetWellKnown(ctx context.Context) (appforge.WellKnown, error) {
	var wk appforge.WellKnown
	err := c.HttpRequest(ctx, http.MethodGet, "/.well-known/appforge", nil, &wk)
	return wk, err
}

func (c *Client) CreateApplication(ctx context.Context, req appforge.CreateApplicationRequest) (appforge.ApplicationView, error) {
	var view appforge.ApplicationView
	err := c.HttpRequest(ctx, http.MethodPost, "/api/v1/applications", req, &view)
	return view, err
}

func (c *Client) ListApplications(ctx context.Context, orgID string) ([]appforge.ApplicationView, error) {
	var views []appforge.ApplicationView
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/applications?orgId="+url.QueryEscape(orgID), nil, &views)
	return views, err
}

// GetApplication fetches the application with its document for mode. Live
// views are served from the local cache when present.
func (c *Client) GetApplication(ctx context.Context, id string, mode appforge.ViewMode) (appforge.ApplicationView, error) {
	var view appforge.ApplicationView
	err := c.cached(ctx, id, "view", mode, "/api/v1/applications/"+url.PathEscape(id)+"?mode="+string(mode), &view)
	return view, err
}

func (c *Client) GetQueries(ctx context.Context, id string, mode appforge.ViewMode) ([]appforge.Query, error) {
	var queries []appforge.Query
	err := c.cached(ctx, id, "queries", mode, "/api/v1/applications/"+url.PathEscape(id)+"/queries?mode="+string(mode), &queries)
	return queries, err
}

func (c *Client) FindQuery(ctx context.Context, id string, mode appforge.ViewMode, queryID string) (appforge.Query, error) {
	var query appforge.Query
	path := "/api/v1/applications/" + url.PathEscape(id) + "/queries/" + url.PathEscape(queryID) + "?mode=" + string(mode)
	err := c.HttpRequest(ctx, http.MethodGet, path, nil, &query)
	return query, err
}

func (c *Client) GetModules(ctx context.Context, id string, mode appforge.ViewMode) ([]string, error) {
	var view appforge.ModulesView
	err := c.cached(ctx, id, "modules", mode, "/api/v1/applications/"+url.PathEscape(id)+"/modules?mode="+string(mode), &view)
	return view.Modules, err
}

func (c *Client) ResolveModules(ctx context.Context, id string, mode appforge.ViewMode) (appforge.ModulesView, error) {
	var view appforge.ModulesView
	path := "/api/v1/applications/" + url.PathEscape(id) + "/modules?resolve=true&mode=" + string(mode)
	err := c.HttpRequest(ctx, http.MethodGet, path, nil, &view)
	return view, err
}

func (c *Client) GetContainerSize(ctx context.Context, id string) (*appforge.ContainerSize, error) {
	var body struct {
		ContainerSize *appforge.ContainerSize `json:"containerSize"`
	}
	err := c.cached(ctx, id, "container-size", appforge.ViewModeLive, "/api/v1/applications/"+url.PathEscape(id)+"/container-size", &body)
	return body.ContainerSize, err
}

func (c *Client) UpdateEditingDSL(ctx context.Context, id string, dsl appforge.DSL) (appforge.ApplicationView, error) {
	return c.write(ctx, id, http.MethodPut, "/dsl", appforge.UpdateDSLRequest{EditingDSL: dsl})
}

func (c *Client) Rename(ctx context.Context, id, name string) (appforge.ApplicationView, error) {
	return c.write(ctx, id, http.MethodPut, "/name", appforge.RenameRequest{Name: name})
}

func (c *Client) Publish(ctx context.Context, id string) (appforge.ApplicationView, error) {
	return c.write(ctx, id, http.MethodPost, "/publish", nil)
}

func (c *Client) UpdateVisibility(ctx context.Context, id string, req appforge.VisibilityRequest) (appforge.ApplicationView, error) {
	return c.write(ctx, id, http.MethodPut, "/visibility", req)
}

func (c *Client) Recycle(ctx context.Context, id string) (appforge.ApplicationView, error) {
	return c.write(ctx, id, http.MethodPost, "/recycle", nil)
}

func (c *Client) Restore(ctx context.Context, id string) (appforge.ApplicationView, error) {
	return c.write(ctx, id, http.MethodPost, "/restore", nil)
}

func (c *Client) DeleteApplication(ctx context.Context, id string) error {
	defer c.Invalidate(id)
	return c.HttpRequest(ctx, http.MethodDelete, "/api/v1/applications/"+url.PathEscape(id), nil, nil)
}

// Invalidate drops every cached view of the application.
func (c *Client) Invalidate(id string) {
	prefix := cachePrefix(id)
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
}

func (c *Client) write(ctx context.Context, id, method, suffix string, body any) (appforge.ApplicationView, error) {
	defer c.Invalidate(id)

	var view appforge.ApplicationView
	err := c.HttpRequest(ctx, method, "/api/v1/applications/"+url.PathEscape(id)+suffix, body, &view)
	return view, err
}

// cached serves live reads from the local cache. Editing reads always go to
// the server since drafts change often.
func (c *Client) cached(ctx context.Context, id, kind string, mode appforge.ViewMode, path string, result any) error {
	if mode != appforge.ViewModeLive {
		return c.HttpRequest(ctx, http.MethodGet, path, nil, result)
	}

	cacheKey := cachePrefix(id) + kind
	if raw, found := c.cache.Get(cacheKey); found {
		log.Debug().Str("key", cacheKey).Msg("client cache hit")
		return json.Unmarshal(raw.([]byte), result)
	}

	err := c.HttpRequest(ctx, http.MethodGet, path, nil, result)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to cache response: %v", err)
	}
	c.cache.Set(cacheKey, raw, cache.DefaultExpiration)
	return nil
}

func cachePrefix(id string) string {
	return "application:" + id + ":"
}
