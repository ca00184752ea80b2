package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/fitsync/internal/domain"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 30

	maxErrorBody = 512
)

// Page is one page of the athlete activity listing.
type Page struct {
	// Raw is the response body exactly as Strava sent it.
	Raw        json.RawMessage
	Activities []domain.RawActivity
}

// Client fetches activity pages from the Strava API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a Client rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage issues one GET /athlete/activities. Non-positive page and
// perPage fall back to 1 and 30.
func (c *Client) FetchPage(ctx context.Context, accessToken string, page, perPage int) (Page, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Page{}, domain.NewValidationError("access_token", "Access token is required")
	}
	if page <= 0 {
		page = DefaultPage
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	endpoint := c.baseURL + "/athlete/activities?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build activities request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if transport := transportError(err); transport != nil {
			return Page{}, transport
		}
		return Page{}, &domain.UpstreamError{Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, &domain.UpstreamError{Status: http.StatusBadGateway, Message: "read activities response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Int("page", page).Msg("strava activities request failed")
		return Page{}, &domain.UpstreamError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Strava API error: %d", resp.StatusCode),
			Body:    truncate(string(body), maxErrorBody),
		}
	}

	var activities []domain.RawActivity
	if err := json.Unmarshal(body, &activities); err != nil {
		return Page{}, &domain.UpstreamError{Status: http.StatusBadGateway, Message: "decode activities: " + err.Error()}
	}

	c.logger.Debug().Int("page", page).Int("count", len(activities)).Msg("fetched strava activities")
	return Page{Raw: json.RawMessage(body), Activities: activities}, nil
}

// transportError classifies network failures, or returns nil when err is
// not one.
func transportError(err error) *domain.UpstreamError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.UpstreamError{Status: http.StatusGatewayTimeout, Message: "Strava request timed out"}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &domain.UpstreamError{Status: http.StatusBadGateway, Message: "Strava request failed: " + urlErr.Err.Error()}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
