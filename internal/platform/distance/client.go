package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultLookupTimeout = 5 * time.Second

var (
	// ErrUnknownDestination indicates the destination ZIP is not covered by the distance service.
	ErrUnknownDestination = errors.New("distance: unknown destination")
	// ErrLookupFailed indicates the distance service could not be reached or answered abnormally.
	ErrLookupFailed = errors.New("distance: lookup failed")
)

// Source resolves the road distance in miles from the factory depot to a destination ZIP.
type Source interface {
	DistanceMiles(ctx context.Context, destinationZIP string) (float64, error)
}

// SourceFunc adapts ordinary functions to Source.
type SourceFunc func(ctx context.Context, destinationZIP string) (float64, error)

// DistanceMiles resolves the distance using the wrapped function.
func (f SourceFunc) DistanceMiles(ctx context.Context, destinationZIP string) (float64, error) {
	return f(ctx, destinationZIP)
}

// Client queries an external routing service for depot-to-destination mileage.
type Client struct {
	baseURL  string
	depotZIP string
	token    string
	client   *http.Client
	timeout  time.Duration
}

// Option customises Client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for lookups.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAuthToken attaches a bearer token to outgoing lookups.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout bounds each lookup call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient constructs a distance client for the given service URL and depot ZIP.
func NewClient(baseURL, depotZIP string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("distance: base url is required")
	}
	depot := strings.TrimSpace(depotZIP)
	if depot == "" {
		return nil, errors.New("distance: depot zip is required")
	}

	c := &Client{
		baseURL:  trimmed,
		depotZIP: depot,
		client:   &http.Client{Timeout: 10 * time.Second},
		timeout:  defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type lookupResponse struct {
	Miles float64 `json:"miles"`
}

// DistanceMiles resolves the road distance from the depot to the destination ZIP.
// The lookup is an idempotent GET and safe for callers to retry.
func (c *Client) DistanceMiles(ctx context.Context, destinationZIP string) (float64, error) {
	destination := strings.TrimSpace(destinationZIP)
	if destination == "" {
		return 0, ErrUnknownDestination
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	query := url.Values{}
	query.Set("origin", c.depotZIP)
	query.Set("destination", destination)
	endpoint := c.baseURL + "/v1/distance?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return 0, ErrUnknownDestination
	default:
		return 0, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err)
	}
	if payload.Miles < 0 {
		return 0, fmt.Errorf("%w: negative distance %f", ErrLookupFailed, payload.Miles)
	}
	return payload.Miles, nil
}
