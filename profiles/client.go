package profiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
)

// Client implements Repo over PostgREST-style row endpoints. It also provides
// the trivial row read the connection monitor uses as a connectivity probe.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger

	// accessToken supplies the caller's bearer token for row-level security.
	accessToken func() string
}

// ClientOption modifies a Client instance.
type ClientOption func(*Client)

// WithClientHTTPClient sets the underlying HTTP client (primarily for testing).
func WithClientHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.client = httpClient
	}
}

// NewClient creates a profile client for the backend at baseURL. accessToken
// is consulted per request so the client always sends the current session's
// bearer token.
func NewClient(baseURL, apiKey string, accessToken func() string, log zerolog.Logger, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[profiles.NewClient] baseURL is required")
	}
	if accessToken == nil {
		accessToken = func() string { return "" }
	}

	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 15 * time.Second},
		log:         log,
		accessToken: accessToken,
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

var _ Repo = (*Client)(nil)

// GetByID reads a single profile row by user ID.
func (c *Client) GetByID(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, errors.New("[GetByID] userID is required")
	}

	url := fmt.Sprintf("%s/rest/v1/profiles?id=eq.%s&limit=1", c.baseURL, userID)
	rows, err := c.readRows(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, clienterrors.ErrProfileNotFound
	}
	return &rows[0], nil
}

// Update patches the profile row and returns the updated representation.
func (c *Client) Update(ctx context.Context, userID string, changes Profile) (*Profile, error) {
	if userID == "" {
		return nil, errors.New("[Update] userID is required")
	}

	body, err := json.Marshal(changes)
	if err != nil {
		return nil, errors.Wrap(err, "[Update] marshal changes")
	}

	url := fmt.Sprintf("%s/rest/v1/profiles?id=eq.%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[Update] build request")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Update] patch request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("[Update] backend returned status %d", resp.StatusCode)
	}

	var rows []Profile
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "[Update] decode response")
	}
	if len(rows) == 0 {
		return nil, clienterrors.ErrProfileNotFound
	}
	return &rows[0], nil
}

// Probe issues the cheapest possible read against the backend. Used purely as
// a connectivity check; the row content is discarded.
func (c *Client) Probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/rest/v1/profiles?select=id&limit=1", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "[Probe] build request")
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Probe] probe request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return errors.Errorf("[Probe] backend returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) readRows(ctx context.Context, url string) ([]Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[readRows] build request")
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[readRows] get request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("[readRows] backend returned status %d", resp.StatusCode)
	}

	var rows []Profile
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "[readRows] decode response")
	}
	return rows, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
