// Package model defines the core domain types for the ride registration system.
package model

import (
	"fmt"
	"time"
)

// RideLevel is one of the four skill-tier categories or the workshop slot.
// Each level of an event is independently capacity-constrained.
type RideLevel string

const (
	Level1     RideLevel = "level1"
	Level2     RideLevel = "level2"
	Level2Plus RideLevel = "level2plus"
	Level3     RideLevel = "level3"
	Workshop   RideLevel = "workshop"
)

// ParseRideLevel validates a ride level received over the wire.
func ParseRideLevel(s string) (RideLevel, error) {
	switch RideLevel(s) {
	case Level1, Level2, Level2Plus, Level3, Workshop:
		return RideLevel(s), nil
	}
	return "", fmt.Errorf("unknown ride level %q", s)
}

// IsWorkshop reports whether the level is the workshop slot rather than a ride.
func (l RideLevel) IsWorkshop() bool { return l == Workshop }

// EventType distinguishes the two kinds of bookable events.
type EventType string

const (
	EventTypeRide     EventType = "ride"
	EventTypeWorkshop EventType = "workshop"
)

// ParseEventType validates an event type received over the wire.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventTypeRide, EventTypeWorkshop:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Registrant identifies who holds a registration: either an authenticated
// member (UserID set) or a guest (GuestEmail set). Exactly one side is set;
// use the Member/Guest constructors rather than building the struct directly.
type Registrant struct {
	UserID     string
	GuestEmail string
}

// Member builds a registrant for an authenticated user.
func Member(userID string) Registrant { return Registrant{UserID: userID} }

// Guest builds a registrant identified only by email.
func Guest(email string) Registrant { return Registrant{GuestEmail: email} }

// IsMember reports whether the registrant is an authenticated user.
func (r Registrant) IsMember() bool { return r.UserID != "" }

// Registration is a seat claim (confirmed or waitlisted) on one ride level of
// one event. Rows are never deleted; CancelledAt marks the terminal state.
type Registration struct {
	ID                  string     `json:"id"`
	EventID             int64      `json:"event_id"`
	RideLevel           RideLevel  `json:"ride_level"`
	Registrant          Registrant `json:"-"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	IsWaitlist          bool       `json:"is_waitlist"`
	WaitlistJoinedAt    *time.Time `json:"waitlist_joined_at,omitempty"`
	WaitlistPromotedAt  *time.Time `json:"waitlist_promoted_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CancelTokenHash     string     `json:"-"`
	CancelTokenIssuedAt time.Time  `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
}

// LevelCancellation voids an entire (event, ride level) pair. At most one row
// exists per pair; its presence means every registration for the pair is
// cancelled.
type LevelCancellation struct {
	ID          string    `json:"id"`
	EventID     int64     `json:"event_id"`
	RideLevel   RideLevel `json:"ride_level"`
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventMeta is the read-only event metadata served by the external content
// system. Nil PublicReleaseDate means the event is open immediately; nil
// WorkshopCapacity means the workshop is unlimited.
type EventMeta struct {
	ID                 int64                  `json:"id"`
	Title              string                 `json:"title"`
	Slug               string                 `json:"slug"`
	PublicReleaseDate  *time.Time             `json:"public_release_date"`
	IsFlintaOnly       bool                   `json:"is_flinta_only"`
	WorkshopCapacity   *int                   `json:"workshop_capacity"`
	GuideCountsByLevel map[RideLevel]int      `json:"guide_counts_by_level"`
	GuideIDsByLevel    map[RideLevel][]string `json:"guide_ids_by_level"`
}

// Profile is what the external profile store knows about a user.
type Profile struct {
	UserID          string `json:"user_id"`
	IsMember        bool   `json:"is_member"`
	IsGuide         bool   `json:"is_guide"`
	ExternalGuideID string `json:"external_guide_id"`
	Email           string `json:"email"`
}

// SignupRequest is the payload for claiming a seat. Email is required when no
// bearer token accompanies the request (guest signup).
type SignupRequest struct {
	EventID        int64  `json:"eventId"`
	RideLevel      string `json:"rideLevel"`
	EventType      string `json:"eventType"`
	FlintaAttested bool   `json:"flintaAttested"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email,omitempty"`
}

// CancelRequest is the payload for an authenticated self-cancellation.
type CancelRequest struct {
	EventID   int64  `json:"eventId"`
	RideLevel string `json:"rideLevel"`
}

// TokenCancelRequest is the payload for a guest self-cancellation.
type TokenCancelRequest struct {
	Token string `json:"token"`
}

// LevelCancelRequest is the payload for a guide voiding an entire level.
type LevelCancelRequest struct {
	EventID   int64  `json:"eventId"`
	RideLevel string `json:"rideLevel"`
	Reason    string `json:"reason"`
}

// SignupResponse reports the admission outcome.
type SignupResponse struct {
	Success    bool `json:"success"`
	Waitlisted bool `json:"waitlisted"`
}

// CancelResponse reports a single cancellation.
type CancelResponse struct {
	Success bool `json:"success"`
}

// LevelCancelResponse reports a bulk cancellation with its fan-out tally.
type LevelCancelResponse struct {
	Success        bool `json:"success"`
	CancelledCount int  `json:"cancelledCount"`
	EmailsSent     int  `json:"emailsSent"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
