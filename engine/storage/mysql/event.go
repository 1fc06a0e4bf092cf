package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/staffops/staffcycle/engine/storage"
)

// AppendEvent appends e to the request's audit trail.
// See the storage interface type for further docs.
func (s *MySQLStorage) AppendEvent(ctx context.Context, e *storage.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validating event: %w", err)
	}
	id := e.ID
	if id == "" {
		id = s.ider.ID()
	}
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx, `
INSERT INTO lifecycle_events
    (id, request_id, event_type, actor, metadata, created_at)
VALUES
    (?, ?, ?, ?, ?, ?);`,
		id,
		e.RequestID,
		e.Type,
		sqlNullString(e.Actor),
		metadata,
		epoch(e.At),
	)
	return err
}

// RetrieveEvents returns the request's audit trail in append order.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveEvents(ctx context.Context, requestID string) ([]*storage.Event, error) {
	if requestID == "" {
		return nil, storage.ErrMissingRequestID
	}
	rows, err := s.db.QueryContext(
		ctx, `
SELECT
    id, request_id, event_type, actor, metadata, created_at
FROM
    lifecycle_events
WHERE
    request_id = ?
ORDER BY seq;`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*storage.Event
	for rows.Next() {
		e := new(storage.Event)
		var actor, metadata sql.NullString
		var createdAt int64
		if err = rows.Scan(&e.ID, &e.RequestID, &e.Type, &actor, &metadata, &createdAt); err != nil {
			return events, err
		}
		e.Actor = actor.String
		e.At = fromEpoch(createdAt)
		if err = unmarshalJSON(metadata, &e.Metadata); err != nil {
			return events, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
