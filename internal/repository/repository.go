// Package repository implements the registration ledger over PostgreSQL.
// It uses pgx directly (no ORM) for transparency and performance.
//
// Every state change runs inside one transaction holding a per-(event, level)
// advisory lock, so capacity checks, inserts, cancellations and waitlist
// promotions are serialised across any number of service instances without
// in-process locking. Partial unique indexes on active rows (see
// db/schema.sql) back the duplicate checks up at the store level.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radkollektiv/ridesignup/internal/model"
	"github.com/radkollektiv/ridesignup/internal/promoter"
	"github.com/radkollektiv/ridesignup/internal/token"
)

// ErrNotFound is returned when no active registration matches the criteria.
var ErrNotFound = errors.New("registration not found")

// ErrAlreadyRegistered is returned when the registrant already holds a
// confirmed seat for the (event, level) pair.
var ErrAlreadyRegistered = errors.New("already registered for this level")

// ErrAlreadyWaitlisted is returned when the registrant is already on the
// waitlist for the (event, level) pair.
var ErrAlreadyWaitlisted = errors.New("already waitlisted for this level")

// ErrLevelCancelled is returned when signing up for a level that a guide has
// voided.
var ErrLevelCancelled = errors.New("ride level has been cancelled")

// ErrLevelAlreadyCancelled is returned when bulk-cancelling a level twice.
var ErrLevelAlreadyCancelled = errors.New("ride level already cancelled")

const uniqueViolation = "23505"

// Ledger is the authoritative store of registration state.
type Ledger struct {
	db *pgxpool.Pool
}

// NewLedger constructs a Ledger.
func NewLedger(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

// lockLevel serialises all writers for one (event, level) pair for the rest
// of the transaction. Event metadata lives in an external system, so there is
// no event row to SELECT ... FOR UPDATE; the advisory lock plays that role.
func lockLevel(ctx context.Context, tx pgx.Tx, eventID int64, level model.RideLevel) error {
	_, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		strconv.FormatInt(eventID, 10), string(level),
	)
	if err != nil {
		return fmt.Errorf("lock level: %w", err)
	}
	return nil
}

// CreateResult is the outcome of a signup: the stored row, whether it landed
// on the waitlist, and the one-time cancel token for the registrant.
type CreateResult struct {
	Registration model.Registration
	Waitlisted   bool
	CancelToken  string
}

// Create claims a seat or joins the waitlist. capacity is the seat count for
// the level; nil means unlimited, in which case the row is always confirmed
// and no waitlist can form. The capacity count and the insert happen under
// the per-level lock, so concurrent signups can never overbook.
func (l *Ledger) Create(ctx context.Context, eventID int64, level model.RideLevel, registrant model.Registrant, firstName, lastName string, capacity *int) (res *CreateResult, err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockLevel(ctx, tx, eventID, level); err != nil {
		return nil, err
	}

	// A voided level must never accumulate new rows.
	var voided bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM level_cancellations WHERE event_id = $1 AND ride_level = $2)`,
		eventID, level,
	).Scan(&voided)
	if err != nil {
		return nil, fmt.Errorf("check level cancellation: %w", err)
	}
	if voided {
		return nil, ErrLevelCancelled
	}

	var existingWaitlist *bool
	if registrant.IsMember() {
		err = tx.QueryRow(ctx,
			`SELECT is_waitlist FROM registrations
			 WHERE event_id = $1 AND ride_level = $2 AND user_id = $3 AND cancelled_at IS NULL`,
			eventID, level, registrant.UserID,
		).Scan(&existingWaitlist)
	} else {
		err = tx.QueryRow(ctx,
			`SELECT is_waitlist FROM registrations
			 WHERE event_id = $1 AND ride_level = $2 AND lower(guest_email) = lower($3) AND cancelled_at IS NULL`,
			eventID, level, registrant.GuestEmail,
		).Scan(&existingWaitlist)
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if existingWaitlist != nil {
		if *existingWaitlist {
			return nil, ErrAlreadyWaitlisted
		}
		return nil, ErrAlreadyRegistered
	}

	waitlisted := false
	if capacity != nil {
		var confirmed int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM registrations
			 WHERE event_id = $1 AND ride_level = $2 AND NOT is_waitlist AND cancelled_at IS NULL`,
			eventID, level,
		).Scan(&confirmed)
		if err != nil {
			return nil, fmt.Errorf("count confirmed: %w", err)
		}
		waitlisted = confirmed >= *capacity
	}

	cred, err := token.Issue()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reg := model.Registration{
		ID:                  uuid.New().String(),
		EventID:             eventID,
		RideLevel:           level,
		Registrant:          registrant,
		FirstName:           firstName,
		LastName:            lastName,
		IsWaitlist:          waitlisted,
		CancelTokenHash:     cred.Hash,
		CancelTokenIssuedAt: now,
		CreatedAt:           now,
	}
	if waitlisted {
		reg.WaitlistJoinedAt = &now
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO registrations
		   (id, event_id, ride_level, user_id, guest_email, first_name, last_name,
		    is_waitlist, waitlist_joined_at, cancel_token_hash, cancel_token_issued_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		reg.ID, reg.EventID, reg.RideLevel,
		nullable(registrant.UserID), nullable(registrant.GuestEmail),
		reg.FirstName, reg.LastName,
		reg.IsWaitlist, reg.WaitlistJoinedAt, reg.CancelTokenHash, reg.CancelTokenIssuedAt, reg.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &CreateResult{Registration: reg, Waitlisted: waitlisted, CancelToken: cred.Token}, nil
}

// CancelResult is the outcome of a single cancellation, including the
// waitlist promotion it may have triggered.
type CancelResult struct {
	Cancelled    model.Registration
	WasConfirmed bool
	Promotion    *promoter.Promotion
}

// CancelByKey cancels the active registration held by a registrant on an
// (event, level) pair. Returns ErrNotFound when no active row matches.
func (l *Ledger) CancelByKey(ctx context.Context, eventID int64, level model.RideLevel, registrant model.Registrant) (*CancelResult, error) {
	return l.cancelTx(ctx, eventID, level, func(ctx context.Context, tx pgx.Tx) (*model.Registration, error) {
		if registrant.IsMember() {
			return selectActiveForUpdate(ctx, tx,
				`WHERE event_id = $1 AND ride_level = $2 AND user_id = $3 AND cancelled_at IS NULL`,
				eventID, level, registrant.UserID)
		}
		return selectActiveForUpdate(ctx, tx,
			`WHERE event_id = $1 AND ride_level = $2 AND lower(guest_email) = lower($3) AND cancelled_at IS NULL`,
			eventID, level, registrant.GuestEmail)
	})
}

// CancelByTokenHash cancels the active registration whose stored credential
// digest matches. Returns ErrNotFound for an unknown or stale token,
// including tokens superseded by a waitlist promotion.
func (l *Ledger) CancelByTokenHash(ctx context.Context, tokenHash string) (*CancelResult, error) {
	// The level key is unknown until the row is read, and the advisory lock
	// must be held before any state is touched. Read the key first without a
	// lock, then lock and re-match inside cancelTx.
	var (
		eventID int64
		level   model.RideLevel
	)
	err := l.db.QueryRow(ctx,
		`SELECT event_id, ride_level FROM registrations
		 WHERE cancel_token_hash = $1 AND cancelled_at IS NULL`,
		tokenHash,
	).Scan(&eventID, &level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find registration by token: %w", err)
	}

	return l.cancelTx(ctx, eventID, level, func(ctx context.Context, tx pgx.Tx) (*model.Registration, error) {
		return selectActiveForUpdate(ctx, tx,
			`WHERE cancel_token_hash = $1 AND cancelled_at IS NULL`, tokenHash)
	})
}

// cancelTx runs one cancellation: lock the level, re-match the row, mark it
// cancelled, and promote the waitlist head if a confirmed seat was freed.
func (l *Ledger) cancelTx(ctx context.Context, eventID int64, level model.RideLevel, match func(context.Context, pgx.Tx) (*model.Registration, error)) (res *CancelResult, err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockLevel(ctx, tx, eventID, level); err != nil {
		return nil, err
	}

	reg, err := match(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE registrations SET cancelled_at = $2 WHERE id = $1`,
		reg.ID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}
	reg.CancelledAt = &now

	result := &CancelResult{Cancelled: *reg, WasConfirmed: !reg.IsWaitlist}
	if result.WasConfirmed {
		result.Promotion, err = promoter.PromoteEarliest(ctx, tx, reg.EventID, reg.RideLevel)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// BulkCancelLevel voids an entire (event, level) pair: it records the
// LevelCancellation, then cancels every active registration for the pair and
// returns them for notification fan-out. A second call for the same pair
// returns ErrLevelAlreadyCancelled; the uniqueness of the LevelCancellation
// row is what makes the operation idempotent.
func (l *Ledger) BulkCancelLevel(ctx context.Context, eventID int64, level model.RideLevel, cancelledBy, reason string) (cancelled []model.Registration, err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockLevel(ctx, tx, eventID, level); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO level_cancellations (id, event_id, ride_level, cancelled_by, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), eventID, level, cancelledBy, reason, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrLevelAlreadyCancelled
		}
		return nil, fmt.Errorf("insert level cancellation: %w", err)
	}

	rows, err := tx.Query(ctx,
		`UPDATE registrations SET cancelled_at = $3
		 WHERE event_id = $1 AND ride_level = $2 AND cancelled_at IS NULL
		 RETURNING `+registrationColumns,
		eventID, level, now,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel level registrations: %w", err)
	}
	cancelled, err = scanRegistrations(rows)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return cancelled, nil
}

// ListActive returns every active registration for an (event, level) pair,
// confirmed seats first, waitlist in FIFO order.
func (l *Ledger) ListActive(ctx context.Context, eventID int64, level model.RideLevel) ([]model.Registration, error) {
	rows, err := l.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND ride_level = $2 AND cancelled_at IS NULL
		 ORDER BY is_waitlist ASC, waitlist_joined_at ASC NULLS FIRST, created_at ASC`,
		eventID, level,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return scanRegistrations(rows)
}

const registrationColumns = `id, event_id, ride_level, user_id, guest_email, first_name, last_name,
	is_waitlist, waitlist_joined_at, waitlist_promoted_at, cancelled_at,
	cancel_token_hash, cancel_token_issued_at, created_at`

func selectActiveForUpdate(ctx context.Context, tx pgx.Tx, where string, args ...any) (*model.Registration, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations `+where+` FOR UPDATE`, args...)
	reg, err := scanRegistration(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select registration: %w", err)
	}
	return reg, nil
}

func scanRegistration(scan func(...any) error) (*model.Registration, error) {
	var (
		reg      model.Registration
		userID   *string
		guestEml *string
	)
	err := scan(
		&reg.ID, &reg.EventID, &reg.RideLevel, &userID, &guestEml,
		&reg.FirstName, &reg.LastName,
		&reg.IsWaitlist, &reg.WaitlistJoinedAt, &reg.WaitlistPromotedAt, &reg.CancelledAt,
		&reg.CancelTokenHash, &reg.CancelTokenIssuedAt, &reg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		reg.Registrant = model.Member(*userID)
	} else if guestEml != nil {
		reg.Registrant = model.Guest(*guestEml)
	}
	return &reg, nil
}

func scanRegistrations(rows pgx.Rows) ([]model.Registration, error) {
	defer rows.Close()
	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read registrations: %w", err)
	}
	return regs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
