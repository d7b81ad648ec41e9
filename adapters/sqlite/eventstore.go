package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/billgate/domain/gwevent"
)

// EventStore implements ports.EventStore using SQLite.
//
// Dedup works through the (gateway, event_id) unique constraint: audit rows
// are inserted first with the row id standing in for the event id, then
// ClaimEventID swaps in the real gateway event id. Concurrent duplicate
// deliveries race on that update; the loser gets ErrDuplicate and
// acknowledges without processing.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite gateway event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Create stores a new audit row, before verification. The event id defaults
// to the row id so the unique constraint cannot fire on ingest.
func (s *EventStore) Create(ctx context.Context, ev gwevent.Event) error {
	eventID := ev.EventID
	if eventID == "" {
		eventID = ev.ID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_events (
			id, gateway, event_id, kind, payload, outcome, error, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, ev.Gateway, eventID, string(ev.Kind), ev.Payload,
		string(ev.Outcome), ev.Error, ev.ReceivedAt, nullTime(ev.ProcessedAt),
	)

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// ClaimEventID sets the verified gateway event id and kind on an audit
// row. Returns ErrDuplicate when another row already claimed the same
// (gateway, event_id) pair.
func (s *EventStore) ClaimEventID(ctx context.Context, id, eventID string, kind gwevent.Kind) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE gateway_events
		SET event_id = ?, kind = ?
		WHERE id = ?
	`, eventID, string(kind), id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish records the processing outcome of an audit row.
func (s *EventStore) Finish(ctx context.Context, id string, outcome gwevent.Outcome, errMsg string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE gateway_events
		SET outcome = ?, error = ?, processed_at = ?
		WHERE id = ?
	`, string(outcome), errMsg, at.UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves an audit row by ID.
func (s *EventStore) Get(ctx context.Context, id string) (gwevent.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, gateway, event_id, kind, payload, outcome, error, received_at, processed_at
		FROM gateway_events
		WHERE id = ?
	`, id)

	var ev gwevent.Event
	var kind, outcome string
	var processedAt sql.NullTime

	err := row.Scan(
		&ev.ID, &ev.Gateway, &ev.EventID, &kind, &ev.Payload,
		&outcome, &ev.Error, &ev.ReceivedAt, &processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return gwevent.Event{}, ErrNotFound
	}
	if err != nil {
		return gwevent.Event{}, err
	}

	ev.Kind = gwevent.Kind(kind)
	ev.Outcome = gwevent.Outcome(outcome)
	ev.ProcessedAt = timePtr(processedAt)
	return ev, nil
}

// PurgeOlderThan deletes audit rows received before cutoff.
func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM gateway_events WHERE received_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
