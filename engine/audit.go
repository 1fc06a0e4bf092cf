package engine

import (
	"context"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/logkeys"

	"github.com/micromdm/nanolib/log"
)

// Audit event types. One event is appended per request or step state
// transition; the trail is append-only and sufficient to reconstruct
// history by replay.
const (
	EventRequestCreated   = "request.created"
	EventRequestStarted   = "request.started"
	EventRequestCompleted = "request.completed"
	EventRequestFailed    = "request.failed"

	EventStepSkipped   = "step.skipped"
	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventStepSuspended = "step.suspended"

	EventTaskCompleted = "task.completed"
)

// Audit metadata keys.
const (
	metaOldStatus = "old_status"
	metaNewStatus = "new_status"
	metaStepID    = "step_id"
	metaStepName  = "step_name"
	metaTaskRef   = "task_ref"
	metaError     = "error"
)

// audit appends one event to the request's trail. Append failures are
// logged, not raised: a workflow outcome must not be lost to an audit
// write error.
func (e *Engine) audit(ctx context.Context, logger log.Logger, requestID, eventType, actor string, metadata map[string]string) {
	err := e.store.AppendEvent(ctx, &storage.Event{
		RequestID: requestID,
		Type:      eventType,
		Actor:     actor,
		Metadata:  metadata,
		At:        time.Now(),
	})
	if err != nil {
		logger.Info(
			logkeys.Message, "appending audit event",
			"event_type", eventType,
			logkeys.Error, err,
		)
	}
}

func stepMeta(s *storage.Step, oldStatus string) map[string]string {
	m := map[string]string{
		metaStepID:    s.ID,
		metaStepName:  s.Name,
		metaOldStatus: oldStatus,
		metaNewStatus: string(s.Status),
	}
	if s.Error != "" {
		m[metaError] = s.Error
	}
	if s.TaskRef != "" {
		m[metaTaskRef] = s.TaskRef
	}
	return m
}
