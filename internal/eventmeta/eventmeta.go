// Package eventmeta is the read-only client for the external event content
// system. Registration decisions depend entirely on this metadata, so any
// fetch failure must abort the operation before state is touched.
package eventmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/radkollektiv/ridesignup/internal/model"
)

// ErrNotFound is returned when the event does not exist upstream.
var ErrNotFound = errors.New("event not found")

// UpstreamError marks a metadata fetch that failed for any reason other than
// the event not existing. Callers must abort without mutating state.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("event metadata: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Client fetches event metadata over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns the metadata for one event.
func (c *Client) Fetch(ctx context.Context, eventID int64) (*model.EventMeta, error) {
	url := fmt.Sprintf("%s/events/%d", c.baseURL, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &UpstreamError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var meta model.EventMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return &meta, nil
}
