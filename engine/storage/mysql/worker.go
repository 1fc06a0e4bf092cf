package mysql

import (
	"context"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/workflow"
)

// RetrieveTimedOutSteps fetches non-manual InProgress steps past their deadline.
// See the storage interface type for further docs.
func (s *MySQLStorage) RetrieveTimedOutSteps(ctx context.Context, now time.Time) ([]*storage.Step, error) {
	rows, err := s.db.QueryContext(
		ctx, `
SELECT
    `+stepColumns+`
FROM
    lifecycle_steps
WHERE
    manual = FALSE AND
    status = ? AND
    deadline > 0 AND
    deadline < ?;`,
		string(workflow.StepInProgress),
		epoch(now),
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
