package repository

import (
	"context"
	"fmt"

	"github.com/UnknownOlympus/meydan/internal/models"
)

// ListEvents returns upcoming, non-cancelled events ordered by start time, with
// IsJoined computed for userID. Missing coordinates come back as NaN so the
// discovery engine excludes them from distance-bounded results.
func (r *Repository) ListEvents(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	events := []models.Event{}
	query := `
		SELECT
			e.event_id::text, e.title, e.category, e.description, e.location_name,
			COALESCE(e.latitude, 'NaN'::float8), COALESCE(e.longitude, 'NaN'::float8),
			e.participant_count, e.max_participants,
			EXISTS (
				SELECT 1 FROM public.event_participants p
				WHERE p.event_id = e.event_id AND p.user_id = $1
			),
			e.starts_at
		FROM public.events e
		WHERE
			e.is_cancelled = false
			AND e.starts_at > now() - interval '3 hours'
		ORDER BY e.starts_at ASC
		LIMIT $2;
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var event models.Event
		if errScan := rows.Scan(
			&event.ID, &event.Title, &event.Category, &event.Description, &event.LocationName,
			&event.Coordinates.Latitude, &event.Coordinates.Longitude,
			&event.ParticipantCount, &event.MaxParticipants,
			&event.IsJoined, &event.StartsAt,
		); errScan != nil {
			return nil, fmt.Errorf("failed to scan event: %w", errScan)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	r.log.DebugContext(ctx, "Events loaded", "user", userID, "count", len(events))

	return events, nil
}

// JoinEvent records the participation of userID and bumps the participant count,
// refusing when the event is full.
func (r *Repository) JoinEvent(ctx context.Context, eventID, userID string) error {
	insertQuery := `
		INSERT INTO public.event_participants (event_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (event_id, user_id) DO NOTHING;
	`
	updateQuery := `
		UPDATE public.events
		SET participant_count = participant_count + 1
		WHERE
			event_id = $1
			AND (max_participants <= 0 OR participant_count < max_participants);
	`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, insertQuery, eventID, userID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to insert participation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return ErrAlreadyJoined
	}

	tag, err = tx.Exec(ctx, updateQuery, eventID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to update participant count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return ErrEventFull
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit participation: %w", err)
	}

	return nil
}

// LeaveEvent removes the participation of userID and decrements the participant count.
func (r *Repository) LeaveEvent(ctx context.Context, eventID, userID string) error {
	deleteQuery := `
		DELETE FROM public.event_participants
		WHERE event_id = $1 AND user_id = $2;
	`
	updateQuery := `
		UPDATE public.events
		SET participant_count = GREATEST(participant_count - 1, 0)
		WHERE event_id = $1;
	`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, deleteQuery, eventID, userID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to delete participation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return ErrNotJoined
	}

	if _, err = tx.Exec(ctx, updateQuery, eventID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to update participant count: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit participation: %w", err)
	}

	return nil
}
