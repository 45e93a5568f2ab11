// Package identity verifies bearer tokens and resolves user profiles from
// the external profile store.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/radkollektiv/ridesignup/internal/model"
)

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid bearer token")

// ErrProfileNotFound is returned when the profile store has no record for a
// verified user id.
var ErrProfileNotFound = errors.New("profile not found")

// Client verifies HS256 bearer tokens locally and looks up profiles over HTTP.
type Client struct {
	secret     []byte
	profileURL string
	http       *http.Client
}

// NewClient constructs a Client from the shared JWT secret and the profile
// service base URL.
func NewClient(jwtSecret, profileURL string) *Client {
	return &Client{
		secret:     []byte(jwtSecret),
		profileURL: profileURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify checks a bearer token and returns the user id it carries.
func (c *Client) Verify(bearerToken string) (string, error) {
	tok, err := jwt.Parse(bearerToken, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Profile fetches the stored profile for a user.
func (c *Client) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	u := fmt.Sprintf("%s/profiles/%s", c.profileURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("profile request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrProfileNotFound
	default:
		return nil, fmt.Errorf("fetch profile: unexpected status %d", resp.StatusCode)
	}

	var p model.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}
