// Package promoter fills a vacated seat from the waitlist.
package promoter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/radkollektiv/ridesignup/internal/model"
	"github.com/radkollektiv/ridesignup/internal/token"
)

// Promotion is the outcome of filling one vacated seat: the promoted
// registration and the fresh cancel token issued for it.
type Promotion struct {
	Registration model.Registration
	CancelToken  string
}

// PromoteEarliest selects the earliest-joined active waitlisted registration
// for the (event, level) pair, flips it to confirmed and issues it a new
// cancellation credential. It returns nil when the waitlist is empty.
//
// It must run inside the same transaction that freed the seat, while the
// per-level advisory lock is held: committing the cancellation first would
// let a concurrent signup claim the seat and the promotion overshoot
// capacity.
func PromoteEarliest(ctx context.Context, tx pgx.Tx, eventID int64, level model.RideLevel) (*Promotion, error) {
	var (
		reg      model.Registration
		userID   *string
		guestEml *string
		joinedAt *time.Time
	)
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, guest_email, first_name, last_name, waitlist_joined_at, created_at
		 FROM registrations
		 WHERE event_id = $1 AND ride_level = $2
		   AND is_waitlist AND cancelled_at IS NULL
		 ORDER BY waitlist_joined_at ASC, created_at ASC, id ASC
		 LIMIT 1
		 FOR UPDATE`,
		eventID, level,
	).Scan(&reg.ID, &userID, &guestEml, &reg.FirstName, &reg.LastName, &joinedAt, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select waitlist head: %w", err)
	}

	cred, err := token.Issue()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE registrations
		 SET is_waitlist = FALSE,
		     waitlist_promoted_at = $2,
		     cancel_token_hash = $3,
		     cancel_token_issued_at = $2
		 WHERE id = $1`,
		reg.ID, now, cred.Hash,
	)
	if err != nil {
		return nil, fmt.Errorf("promote registration: %w", err)
	}

	reg.EventID = eventID
	reg.RideLevel = level
	reg.WaitlistJoinedAt = joinedAt
	reg.WaitlistPromotedAt = &now
	reg.CancelTokenHash = cred.Hash
	reg.CancelTokenIssuedAt = now
	if userID != nil {
		reg.Registrant = model.Member(*userID)
	} else if guestEml != nil {
		reg.Registrant = model.Guest(*guestEml)
	}
	return &Promotion{Registration: reg, CancelToken: cred.Token}, nil
}
