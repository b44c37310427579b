// Package provider talks to the upstream fitness provider's REST API and
// normalizes its payloads.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/scheduler"
)

// Refresher performs a forced token refresh, used for queued refresh
// requests.
type Refresher interface {
	Refresh(ctx context.Context, userID string) error
}

// Client executes scheduler requests against the provider API. It holds no
// per-user state; tokens arrive with each request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	refresher  Refresher
}

// ClientOption configures optional behaviour for Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL string, refresher Refresher, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		refresher: refresher,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs one queued request and returns the raw response body.
func (c *Client) Execute(ctx context.Context, accessToken string, req *scheduler.Request) ([]byte, error) {
	switch req.Kind {
	case scheduler.KindFetchAthlete:
		return c.listActivities(ctx, accessToken, req.After, req.Page, req.PerPage)
	case scheduler.KindFetchActivity:
		return c.getActivity(ctx, accessToken, req.ActivityID)
	case scheduler.KindRefreshToken:
		return nil, c.refresher.Refresh(ctx, req.UserID)
	default:
		return nil, fmt.Errorf("unknown request kind: %s", req.Kind)
	}
}

func (c *Client) listActivities(ctx context.Context, token string, after time.Time, page, perPage int) ([]byte, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}

	query := url.Values{}
	query.Set("after", strconv.FormatInt(after.Unix(), 10))
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	return c.get(ctx, token, fmt.Sprintf("%s/athlete/activities?%s", c.baseURL, query.Encode()))
}

func (c *Client) getActivity(ctx context.Context, token string, activityID int64) ([]byte, error) {
	return c.get(ctx, token, fmt.Sprintf("%s/activities/%d?include_all_efforts=true", c.baseURL, activityID))
}

func (c *Client) get(ctx context.Context, token, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
