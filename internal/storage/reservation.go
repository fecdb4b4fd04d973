package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReservationTTL is how long a manual scan reservation blocks repeat scans
// of the same apex.
const ReservationTTL = 15 * time.Minute

// PurgeExpiredReservations deletes reservations whose expiry has passed.
// Called on every scan request before the conflict check.
func (s *Session) PurgeExpiredReservations(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM domain_requested WHERE time_to_zero <= LOCALTIMESTAMP`)
	if err != nil {
		return fmt.Errorf("storage: purge reservations: %w", err)
	}
	return nil
}

// LiveReservation returns the non-expired reservation for apex, or nil.
func (s *Session) LiveReservation(ctx context.Context, apex string) (*Reservation, error) {
	var r Reservation
	err := s.q.GetContext(ctx, &r, `
		SELECT id, domain, requested_at, time_to_zero, scheduled, requested_by
		FROM domain_requested
		WHERE domain = $1 AND time_to_zero > LOCALTIMESTAMP
		ORDER BY time_to_zero DESC
		LIMIT 1`, apex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: live reservation: %w", err)
	}
	return &r, nil
}

// Reserve inserts or refreshes the reservation row for apex. A scheduled
// reservation marks the row scheduled=true; a manual one refreshes the
// expiry to now + ReservationTTL.
func (s *Session) Reserve(ctx context.Context, apex string, scheduled bool, requestedBy string) error {
	var by *string
	if requestedBy != "" {
		by = &requestedBy
	}

	var existingID int64
	err := s.q.GetContext(ctx, &existingID,
		`SELECT id FROM domain_requested WHERE domain = $1 ORDER BY id DESC LIMIT 1`, apex)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO domain_requested (domain, scheduled, requested_by)
			VALUES ($1, $2, $3)`, apex, scheduled, by)
		if err != nil {
			return fmt.Errorf("storage: insert reservation: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("storage: find reservation: %w", err)
	}

	if scheduled {
		_, err = s.q.ExecContext(ctx,
			`UPDATE domain_requested SET scheduled = TRUE WHERE id = $1`, existingID)
	} else {
		_, err = s.q.ExecContext(ctx, `
			UPDATE domain_requested
			SET time_to_zero = LOCALTIMESTAMP + $2 * INTERVAL '1 second'
			WHERE id = $1`, existingID, int64(ReservationTTL.Seconds()))
	}
	if err != nil {
		return fmt.Errorf("storage: refresh reservation: %w", err)
	}
	return nil
}
