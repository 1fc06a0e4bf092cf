package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/workflow"

	"github.com/go-sql-driver/mysql"
)

// MySQL error number for duplicate entry.
const mysqlErrDupEntry = 1062

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const requestColumns = `id, type, attributes, status, version, results, error_message, created_at, completed_at`

const stepColumns = `id, request_id, name, step_order, status, criticality, manual, uses, task_ref, results, error_message, started_at, completed_at, deadline`

func insertRequest(ctx context.Context, e execer, r *storage.Request) error {
	attrs, err := marshalJSON(r.Attributes)
	if err != nil {
		return err
	}
	results, err := marshalJSON(r.Results)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(
		ctx, `
INSERT INTO lifecycle_requests
    (`+requestColumns+`)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID,
		string(r.Type),
		attrs.String,
		string(r.Status),
		r.Version,
		results,
		sqlNullString(r.Error),
		epoch(r.CreatedAt),
		epoch(r.CompletedAt),
	)
	var mErr *mysql.MySQLError
	if errors.As(err, &mErr) && mErr.Number == mysqlErrDupEntry {
		return fmt.Errorf("%w: %s", storage.ErrRequestExists, r.ID)
	}
	return err
}

func insertStep(ctx context.Context, e execer, s *storage.Step) error {
	results, err := marshalJSON(s.Results)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(
		ctx, `
INSERT INTO lifecycle_steps
    (`+stepColumns+`)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		s.ID,
		s.RequestID,
		s.Name,
		s.Order,
		string(s.Status),
		string(s.Criticality),
		s.Manual,
		sqlNullString(strings.Join(s.Uses, ",")),
		sqlNullString(s.TaskRef),
		results,
		sqlNullString(s.Error),
		epoch(s.StartedAt),
		epoch(s.CompletedAt),
		epoch(s.Deadline),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*storage.Request, error) {
	r := new(storage.Request)
	var rType, status, attrs string
	var results, errMsg sql.NullString
	var createdAt, completedAt int64
	err := row.Scan(
		&r.ID,
		&rType,
		&attrs,
		&status,
		&r.Version,
		&results,
		&errMsg,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Type = workflow.LifecycleType(rType)
	r.Status = workflow.RequestStatus(status)
	r.Error = errMsg.String
	r.CreatedAt = fromEpoch(createdAt)
	r.CompletedAt = fromEpoch(completedAt)
	if err = unmarshalJSON(sqlNullString(attrs), &r.Attributes); err != nil {
		return nil, err
	}
	if err = unmarshalJSON(results, &r.Results); err != nil {
		return nil, err
	}
	return r, nil
}

func scanStep(row rowScanner) (*storage.Step, error) {
	s := new(storage.Step)
	var status, criticality string
	var uses, taskRef, results, errMsg sql.NullString
	var startedAt, completedAt, deadline int64
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.Name,
		&s.Order,
		&status,
		&criticality,
		&s.Manual,
		&uses,
		&taskRef,
		&results,
		&errMsg,
		&startedAt,
		&completedAt,
		&deadline,
	)
	if err != nil {
		return nil, err
	}
	s.Status = workflow.StepStatus(status)
	s.Criticality = workflow.Criticality(criticality)
	if uses.Valid && uses.String != "" {
		s.Uses = strings.Split(uses.String, ",")
	}
	s.TaskRef = taskRef.String
	s.Error = errMsg.String
	s.StartedAt = fromEpoch(startedAt)
	s.CompletedAt = fromEpoch(completedAt)
	s.Deadline = fromEpoch(deadline)
	if err = unmarshalJSON(results, &s.Results); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateRequest stores r and its full step plan in one transaction.
// See the storage interface type for further docs.
func (s *MySQLStorage) CreateRequest(ctx context.Context, r *storage.Request, steps []*storage.Step) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating request: %w", err)
	}
	if len(steps) < 1 {
		return storage.ErrMissingSteps
	}
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("validating step: %w", err)
		}
	}
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertRequest(ctx, tx, r); err != nil {
			return fmt.Errorf("inserting request: %w", err)
		}
		for _, step := range steps {
			if err := insertStep(ctx, tx, step); err != nil {
				return fmt.Errorf("inserting step %s: %w", step.Name, err)
			}
		}
		return nil
	})
}

// RetrieveRequest retrieves a request by ID.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveRequest(ctx context.Context, id string) (*storage.Request, error) {
	if id == "" {
		return nil, storage.ErrMissingRequestID
	}
	r, err := scanRequest(s.db.QueryRowContext(
		ctx,
		`SELECT `+requestColumns+` FROM lifecycle_requests WHERE id = ?;`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %s", storage.ErrNotFound, id)
	}
	return r, err
}

// RetrieveRequests retrieves requests matching f, newest first.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveRequests(ctx context.Context, f storage.RequestFilter) ([]*storage.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM lifecycle_requests`
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, `type = ?`)
		args = append(args, string(f.Type))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*storage.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return reqs, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// RetrieveSteps retrieves a request's steps in plan order.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveSteps(ctx context.Context, requestID string) ([]*storage.Step, error) {
	if requestID == "" {
		return nil, storage.ErrMissingRequestID
	}
	// distinguish an absent request from a request with no steps
	if _, err := s.RetrieveRequest(ctx, requestID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepColumns+` FROM lifecycle_steps WHERE request_id = ? ORDER BY step_order;`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*storage.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return steps, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// RetrieveStep retrieves a step by its own ID.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveStep(ctx context.Context, stepID string) (*storage.Step, error) {
	if stepID == "" {
		return nil, storage.ErrMissingStepID
	}
	step, err := scanStep(s.db.QueryRowContext(
		ctx,
		`SELECT `+stepColumns+` FROM lifecycle_steps WHERE id = ?;`,
		stepID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: step %s", storage.ErrNotFound, stepID)
	}
	return step, err
}

// UpdateRequestStep compare-and-swaps the request (and optionally one step).
// See the storage interface type for further docs.
func (s *MySQLStorage) UpdateRequestStep(ctx context.Context, fromVersion int, r *storage.Request, step *storage.Step) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating request: %w", err)
	}
	if step != nil {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("validating step: %w", err)
		}
	}
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		results, err := marshalJSON(r.Results)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(
			ctx, `
UPDATE lifecycle_requests SET
    status = ?,
    version = ?,
    results = ?,
    error_message = ?,
    completed_at = ?
WHERE
    id = ? AND version = ?;`,
			string(r.Status),
			fromVersion+1,
			results,
			sqlNullString(r.Error),
			epoch(r.CompletedAt),
			r.ID,
			fromVersion,
		)
		if err != nil {
			return fmt.Errorf("updating request: %w", err)
		}
		ct, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if ct < 1 {
			// either the request is missing or another writer won
			var stored int
			err = tx.QueryRowContext(ctx, `SELECT version FROM lifecycle_requests WHERE id = ?;`, r.ID).Scan(&stored)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: request %s", storage.ErrNotFound, r.ID)
			} else if err != nil {
				return fmt.Errorf("getting stored version: %w", err)
			}
			return fmt.Errorf("%w: have: %d, want: %d", storage.ErrVersionMismatch, stored, fromVersion)
		}
		if step == nil {
			return nil
		}

		stepResults, err := marshalJSON(step.Results)
		if err != nil {
			return err
		}
		result, err = tx.ExecContext(
			ctx, `
UPDATE lifecycle_steps SET
    status = ?,
    task_ref = ?,
    results = ?,
    error_message = ?,
    started_at = ?,
    completed_at = ?,
    deadline = ?
WHERE
    id = ?;`,
			string(step.Status),
			sqlNullString(step.TaskRef),
			stepResults,
			sqlNullString(step.Error),
			epoch(step.StartedAt),
			epoch(step.CompletedAt),
			epoch(step.Deadline),
			step.ID,
		)
		if err != nil {
			return fmt.Errorf("updating step: %w", err)
		}
		return nil
	})
}

// RetrieveManualSteps retrieves all InProgress manual steps across requests.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveManualSteps(ctx context.Context) ([]*storage.Step, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepColumns+` FROM lifecycle_steps WHERE manual = TRUE AND status = ? ORDER BY started_at;`,
		string(workflow.StepInProgress),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*storage.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return steps, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// CountRequestsByStatus returns request counts keyed by status.
// See the storage interface type for further docs.
func (s *MySQLStorage) CountRequestsByStatus(ctx context.Context) (map[workflow.RequestStatus]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM lifecycle_requests GROUP BY status;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[workflow.RequestStatus]int)
	for rows.Next() {
		var status string
		var ct int
		if err = rows.Scan(&status, &ct); err != nil {
			return counts, err
		}
		counts[workflow.RequestStatus(status)] = ct
	}
	return counts, rows.Err()
}
