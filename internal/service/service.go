// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the registration ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/radkollektiv/ridesignup/internal/capacity"
	"github.com/radkollektiv/ridesignup/internal/eventmeta"
	"github.com/radkollektiv/ridesignup/internal/model"
	"github.com/radkollektiv/ridesignup/internal/notify"
	"github.com/radkollektiv/ridesignup/internal/policy"
	"github.com/radkollektiv/ridesignup/internal/repository"
	"github.com/radkollektiv/ridesignup/internal/token"
)

// ErrUpstream marks a collaborator failure (event metadata or profile store)
// that forced the operation to abort before any state change.
var ErrUpstream = errors.New("upstream unavailable")

// ErrNotAssignedGuide is returned when the caller is not an assigned guide
// for the targeted (event, level) pair.
var ErrNotAssignedGuide = errors.New("not an assigned guide for this level")

// ValidationError rejects a request before any business logic runs.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Ledger is the slice of the registration store the service needs.
type Ledger interface {
	Create(ctx context.Context, eventID int64, level model.RideLevel, registrant model.Registrant, firstName, lastName string, capacity *int) (*repository.CreateResult, error)
	CancelByKey(ctx context.Context, eventID int64, level model.RideLevel, registrant model.Registrant) (*repository.CancelResult, error)
	CancelByTokenHash(ctx context.Context, tokenHash string) (*repository.CancelResult, error)
	BulkCancelLevel(ctx context.Context, eventID int64, level model.RideLevel, cancelledBy, reason string) ([]model.Registration, error)
}

// MetadataProvider fetches read-only event metadata.
type MetadataProvider interface {
	Fetch(ctx context.Context, eventID int64) (*model.EventMeta, error)
}

// ProfileProvider resolves user profiles.
type ProfileProvider interface {
	Profile(ctx context.Context, userID string) (*model.Profile, error)
}

// Notifier sends best-effort registrant emails.
type Notifier interface {
	Send(ctx context.Context, recipient string, kind notify.Kind, payload map[string]any) error
}

// RegistrationService orchestrates signup, cancellation and bulk cancellation.
type RegistrationService struct {
	ledger   Ledger
	events   MetadataProvider
	profiles ProfileProvider
	notifier Notifier
	policy   *policy.Evaluator
	log      *slog.Logger
	now      func() time.Time
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(ledger Ledger, events MetadataProvider, profiles ProfileProvider, notifier Notifier, pol *policy.Evaluator, log *slog.Logger) *RegistrationService {
	return &RegistrationService{
		ledger:   ledger,
		events:   events,
		profiles: profiles,
		notifier: notifier,
		policy:   pol,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Signup admits, waitlists, or denies one seat claim. userID is empty for
// guest signups, which must carry an email instead.
func (s *RegistrationService) Signup(ctx context.Context, userID string, req model.SignupRequest) (*model.SignupResponse, error) {
	level, err := model.ParseRideLevel(req.RideLevel)
	if err != nil {
		return nil, invalidf("rideLevel: %v", err)
	}
	eventType, err := model.ParseEventType(req.EventType)
	if err != nil {
		return nil, invalidf("eventType: %v", err)
	}
	if level.IsWorkshop() != (eventType == model.EventTypeWorkshop) {
		return nil, invalidf("eventType %q does not match ride level %q", eventType, level)
	}
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	if firstName == "" || lastName == "" {
		return nil, invalidf("firstName and lastName are required")
	}
	if req.EventID <= 0 {
		return nil, invalidf("eventId is required")
	}

	var (
		registrant model.Registrant
		actor      policy.Actor
		email      string
	)
	if userID != "" {
		profile, err := s.profiles.Profile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch profile: %v", ErrUpstream, err)
		}
		registrant = model.Member(userID)
		actor.IsMember = profile.IsMember
		email = profile.Email
	} else {
		guestEmail := strings.TrimSpace(strings.ToLower(req.Email))
		if guestEmail == "" {
			return nil, invalidf("email is required for guest signup")
		}
		if !isValidEmail(guestEmail) {
			return nil, invalidf("email is not a valid email address")
		}
		registrant = model.Guest(guestEmail)
		email = guestEmail
	}
	actor.FlintaAttested = req.FlintaAttested

	event, err := s.events.Fetch(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, eventmeta.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch event metadata: %v", ErrUpstream, err)
	}

	if err := s.policy.Evaluate(s.now(), *event, actor); err != nil {
		return nil, err
	}

	seats := capacity.For(level, *event)
	res, err := s.ledger.Create(ctx, req.EventID, level, registrant, firstName, lastName, seats)
	if err != nil {
		return nil, err
	}

	kind := notify.KindSignupConfirmed
	if res.Waitlisted {
		kind = notify.KindSignupWaitlisted
	}
	s.send(ctx, email, kind, map[string]any{
		"eventId":     event.ID,
		"eventTitle":  event.Title,
		"eventSlug":   event.Slug,
		"rideLevel":   string(level),
		"firstName":   firstName,
		"cancelToken": res.CancelToken,
	})

	return &model.SignupResponse{Success: true, Waitlisted: res.Waitlisted}, nil
}

// CancelOwn cancels the caller's active registration for an (event, level)
// pair and promotes the waitlist head if a confirmed seat was freed.
func (s *RegistrationService) CancelOwn(ctx context.Context, userID string, req model.CancelRequest) error {
	level, err := model.ParseRideLevel(req.RideLevel)
	if err != nil {
		return invalidf("rideLevel: %v", err)
	}
	if req.EventID <= 0 {
		return invalidf("eventId is required")
	}

	res, err := s.ledger.CancelByKey(ctx, req.EventID, level, model.Member(userID))
	if err != nil {
		return err
	}
	s.notifyCancelOutcome(ctx, res)
	return nil
}

// CancelByToken cancels whichever active registration the presented
// credential matches. An unknown, stale, or superseded token is NotFound.
func (s *RegistrationService) CancelByToken(ctx context.Context, req model.TokenCancelRequest) error {
	presented := strings.TrimSpace(req.Token)
	if presented == "" {
		return invalidf("token is required")
	}

	res, err := s.ledger.CancelByTokenHash(ctx, token.Hash(presented))
	if err != nil {
		return err
	}
	s.notifyCancelOutcome(ctx, res)
	return nil
}

// BulkCancel voids an entire ride level on behalf of an assigned guide and
// fans out a cancellation notification to every affected registrant.
func (s *RegistrationService) BulkCancel(ctx context.Context, userID string, req model.LevelCancelRequest) (*model.LevelCancelResponse, error) {
	level, err := model.ParseRideLevel(req.RideLevel)
	if err != nil {
		return nil, invalidf("rideLevel: %v", err)
	}
	if req.EventID <= 0 {
		return nil, invalidf("eventId is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invalidf("reason is required")
	}

	profile, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch profile: %v", ErrUpstream, err)
	}
	event, err := s.events.Fetch(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, eventmeta.ErrNotFound) {
			// A nonexistent event has no guide roster, so nobody is
			// authorized to void its levels.
			return nil, ErrNotAssignedGuide
		}
		return nil, fmt.Errorf("%w: fetch event metadata: %v", ErrUpstream, err)
	}
	if !profile.IsGuide || !isAssignedGuide(event.GuideIDsByLevel[level], profile.ExternalGuideID) {
		return nil, ErrNotAssignedGuide
	}

	cancelled, err := s.ledger.BulkCancelLevel(ctx, req.EventID, level, userID, reason)
	if err != nil {
		return nil, err
	}

	sent := 0
	for _, reg := range cancelled {
		email, err := s.registrantEmail(ctx, reg)
		if err != nil {
			s.log.Warn("resolve registrant email", "registration", reg.ID, "error", err)
			continue
		}
		payload := map[string]any{
			"eventId":    event.ID,
			"eventTitle": event.Title,
			"rideLevel":  string(level),
			"firstName":  reg.FirstName,
			"reason":     reason,
		}
		if s.send(ctx, email, notify.KindLevelCancelled, payload) {
			sent++
		}
	}

	return &model.LevelCancelResponse{Success: true, CancelledCount: len(cancelled), EmailsSent: sent}, nil
}

// notifyCancelOutcome emails the cancelled registrant and, if a waitlisted
// registrant was promoted into the freed seat, emails them their fresh
// cancellation credential.
func (s *RegistrationService) notifyCancelOutcome(ctx context.Context, res *repository.CancelResult) {
	if email, err := s.registrantEmail(ctx, res.Cancelled); err != nil {
		s.log.Warn("resolve registrant email", "registration", res.Cancelled.ID, "error", err)
	} else {
		s.send(ctx, email, notify.KindCancelled, map[string]any{
			"eventId":   res.Cancelled.EventID,
			"rideLevel": string(res.Cancelled.RideLevel),
			"firstName": res.Cancelled.FirstName,
		})
	}

	if res.Promotion == nil {
		return
	}
	promoted := res.Promotion.Registration
	if email, err := s.registrantEmail(ctx, promoted); err != nil {
		s.log.Warn("resolve registrant email", "registration", promoted.ID, "error", err)
	} else {
		s.send(ctx, email, notify.KindPromoted, map[string]any{
			"eventId":     promoted.EventID,
			"rideLevel":   string(promoted.RideLevel),
			"firstName":   promoted.FirstName,
			"cancelToken": res.Promotion.CancelToken,
		})
	}
}

// registrantEmail resolves where to reach a registrant: guests carry their
// email on the row, members are looked up in the profile store.
func (s *RegistrationService) registrantEmail(ctx context.Context, reg model.Registration) (string, error) {
	if !reg.Registrant.IsMember() {
		return reg.Registrant.GuestEmail, nil
	}
	profile, err := s.profiles.Profile(ctx, reg.Registrant.UserID)
	if err != nil {
		return "", err
	}
	return profile.Email, nil
}

// send delivers one notification, logging and swallowing failures: the state
// change has already committed and email is never part of the contract.
func (s *RegistrationService) send(ctx context.Context, recipient string, kind notify.Kind, payload map[string]any) bool {
	if err := s.notifier.Send(ctx, recipient, kind, payload); err != nil {
		s.log.Warn("send notification", "kind", string(kind), "error", err)
		return false
	}
	return true
}

func isAssignedGuide(assigned []string, guideID string) bool {
	if guideID == "" {
		return false
	}
	for _, id := range assigned {
		if id == guideID {
			return true
		}
	}
	return false
}

// isValidEmail does a basic structural check (no external deps).
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
