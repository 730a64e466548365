// Package events appends audit rows for everything that changes site state.
// Each engine operation writes its rows inside its own transaction, so the
// log never drifts from the tables it describes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit rows. Now is injectable for tests.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// EventPayload carries the type-specific detail of an event, such as the
// file name on evidence.uploaded or the bucket on assignment.confirmed.
type EventPayload map[string]any

// Append writes one audit row inside tx. evtType names the transition
// (evidence.uploaded, subtask.completed, assignment.confirmed, ...).
// projectID and entityID may be empty for workspace-level events and are
// stored as NULL. The row lands only when the caller commits.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	clock := w.Now
	if clock == nil {
		clock = time.Now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts, type, project_id, entity_kind, entity_id, actor_id, payload_json)
		 VALUES (?,?,?,?,?,?,?)`,
		clock().UTC().Format(time.RFC3339), evtType, orNull(projectID), entityKind, orNull(entityID), actorID, string(data))
	return err
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
