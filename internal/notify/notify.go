// Package notify sends registrant emails through the external notification
// service. Delivery is best-effort: the registration state change has already
// committed and is the source of truth, so failures are logged and swallowed
// by callers, never surfaced to the API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind selects the email template rendered by the notification service.
type Kind string

const (
	KindSignupConfirmed  Kind = "signup-confirmed"
	KindSignupWaitlisted Kind = "signup-waitlisted"
	KindPromoted         Kind = "waitlist-promoted"
	KindCancelled        Kind = "registration-cancelled"
	KindLevelCancelled   Kind = "level-cancelled"
)

// Sender posts notification requests to the external service.
type Sender struct {
	endpoint string
	http     *http.Client
}

// NewSender constructs a Sender for the given endpoint.
func NewSender(endpoint string) *Sender {
	return &Sender{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type request struct {
	Recipient string         `json:"recipient"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload"`
}

// Send delivers one notification. Callers treat a non-nil error as
// log-and-continue.
func (s *Sender) Send(ctx context.Context, recipient string, kind Kind, payload map[string]any) error {
	body, err := json.Marshal(request{Recipient: recipient, Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: unexpected status %d", resp.StatusCode)
	}
	return nil
}
