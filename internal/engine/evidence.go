package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/repo"
)

// EvidenceUploadOptions are parameters for attaching photo evidence.
type EvidenceUploadOptions struct {
	SubtaskID string
	FileName  string
	ByteSize  int64
	ActorID   string
	ActorRole string
}

// UploadEvidence attaches a pending evidence row to the subtask and mints a
// preview handle for it. Actors whose role lacks the upload capability get the
// subtask back unchanged with no evidence created.
func (e Engine) UploadEvidence(ctx context.Context, opts EvidenceUploadOptions) (domain.Subtask, *domain.Evidence, error) {
	st, err := e.Repo.GetSubtask(ctx, opts.SubtaskID)
	if err != nil {
		return domain.Subtask{}, nil, err
	}
	if !e.Access.CanUpload(opts.ActorRole) {
		return st, nil, nil
	}
	el, err := e.Repo.GetElement(ctx, st.ElementID)
	if err != nil {
		return st, nil, err
	}
	handle := e.Previews.Acquire(st.ID)
	ev := domain.Evidence{
		ID:         uuid.New().String(),
		SubtaskID:  st.ID,
		PreviewURL: handle,
		FileName:   opts.FileName,
		ByteSize:   opts.ByteSize,
		UploadedBy: opts.ActorRole,
		UploadedAt: e.now().UTC().Format(time.RFC3339),
		Status:     domain.EvidencePending,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Previews.Release(st.ID, handle)
		return st, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvidence(ctx, tx, ev); err != nil {
		e.Previews.Release(st.ID, handle)
		return st, nil, err
	}
	if err := e.Events.Append(ctx, tx, "evidence.uploaded", el.ProjectID, "evidence", ev.ID, opts.ActorID, events.EventPayload{
		"subtask_id": st.ID,
		"file_name":  ev.FileName,
	}); err != nil {
		e.Previews.Release(st.ID, handle)
		return st, nil, err
	}
	if err := tx.Commit(); err != nil {
		e.Previews.Release(st.ID, handle)
		return st, nil, err
	}
	return st, &ev, nil
}

// ApproveEvidence marks the evidence approved. The subtask flips to done only
// when this approval is the first one, so repeated approvals never re-fire the
// completion. Stale evidence ids and actors lacking the approve capability are
// ignored.
func (e Engine) ApproveEvidence(ctx context.Context, evidenceID, actorID, actorRole string) (domain.Subtask, error) {
	return e.reviewEvidence(ctx, evidenceID, actorID, actorRole, domain.EvidenceApproved)
}

// RejectEvidence marks the evidence rejected. When no approved evidence
// remains the subtask reopens.
func (e Engine) RejectEvidence(ctx context.Context, evidenceID, actorID, actorRole string) (domain.Subtask, error) {
	return e.reviewEvidence(ctx, evidenceID, actorID, actorRole, domain.EvidenceRejected)
}

func (e Engine) reviewEvidence(ctx context.Context, evidenceID, actorID, actorRole, status string) (domain.Subtask, error) {
	ev, err := e.Repo.GetEvidence(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// concurrently removed; nothing to review
			return domain.Subtask{}, nil
		}
		return domain.Subtask{}, err
	}
	st, err := e.Repo.GetSubtask(ctx, ev.SubtaskID)
	if err != nil {
		return domain.Subtask{}, err
	}
	if !e.Access.CanApprove(actorRole) {
		return st, nil
	}
	if ev.Status == status {
		return st, nil
	}
	el, err := e.Repo.GetElement(ctx, st.ElementID)
	if err != nil {
		return st, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()

	approvedBefore, err := e.Repo.CountApprovedEvidence(ctx, tx, st.ID)
	if err != nil {
		return st, err
	}
	if err := e.Repo.UpdateEvidenceStatus(ctx, tx, ev.ID, status); err != nil {
		return st, err
	}
	evtType := "evidence.approved"
	if status == domain.EvidenceRejected {
		evtType = "evidence.rejected"
	}
	if err := e.Events.Append(ctx, tx, evtType, el.ProjectID, "evidence", ev.ID, actorID, events.EventPayload{"subtask_id": st.ID}); err != nil {
		return st, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	switch status {
	case domain.EvidenceApproved:
		if approvedBefore == 0 && !st.Done {
			if err := e.completeSubtask(ctx, tx, &st, el.ProjectID, actorID, now); err != nil {
				return st, err
			}
		}
	case domain.EvidenceRejected:
		approvedAfter, err := e.Repo.CountApprovedEvidence(ctx, tx, st.ID)
		if err != nil {
			return st, err
		}
		if approvedAfter == 0 && st.Done {
			if err := e.reopenSubtask(ctx, tx, &st, el.ProjectID, actorID, now); err != nil {
				return st, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	return st, nil
}

// RemoveEvidence deletes the evidence row and releases its preview handle.
// When the removed row was the last approved one the subtask reopens. Stale
// ids are ignored.
func (e Engine) RemoveEvidence(ctx context.Context, evidenceID, actorID, actorRole string) (domain.Subtask, error) {
	ev, err := e.Repo.GetEvidence(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Subtask{}, nil
		}
		return domain.Subtask{}, err
	}
	st, err := e.Repo.GetSubtask(ctx, ev.SubtaskID)
	if err != nil {
		return domain.Subtask{}, err
	}
	if !e.Access.CanUpload(actorRole) {
		return st, nil
	}
	el, err := e.Repo.GetElement(ctx, st.ElementID)
	if err != nil {
		return st, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteEvidence(ctx, tx, ev.ID); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, "evidence.removed", el.ProjectID, "evidence", ev.ID, actorID, events.EventPayload{"subtask_id": st.ID}); err != nil {
		return st, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	approvedAfter, err := e.Repo.CountApprovedEvidence(ctx, tx, st.ID)
	if err != nil {
		return st, err
	}
	if approvedAfter == 0 && st.Done {
		if err := e.reopenSubtask(ctx, tx, &st, el.ProjectID, actorID, now); err != nil {
			return st, err
		}
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	e.Previews.Release(st.ID, ev.PreviewURL)
	return st, nil
}

// SetSubtaskDone toggles the subtask manually. Only roles holding the upload
// capability may toggle; anyone else gets the subtask back unchanged, the same
// way upload and remove ignore unauthorized actors. Completing requires at
// least one approved evidence row; seeded subtasks that are already done stay
// done until something removes their standing.
func (e Engine) SetSubtaskDone(ctx context.Context, subtaskID string, done bool, actorID, actorRole string) (domain.Subtask, error) {
	st, err := e.Repo.GetSubtask(ctx, subtaskID)
	if err != nil {
		return domain.Subtask{}, err
	}
	if !e.Access.CanUpload(actorRole) {
		return st, nil
	}
	if st.Done == done {
		return st, nil
	}
	el, err := e.Repo.GetElement(ctx, st.ElementID)
	if err != nil {
		return st, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if done {
		approved, err := e.Repo.CountApprovedEvidence(ctx, tx, st.ID)
		if err != nil {
			return st, err
		}
		if approved == 0 {
			return st, ErrEvidenceRequired
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.applyDone(ctx, tx, &st, done, el.ProjectID, now); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, "subtask.toggled", el.ProjectID, "subtask", st.ID, actorID, events.EventPayload{"done": done}); err != nil {
		return st, err
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	return st, nil
}

// ReleaseSubtaskPreviews revokes every preview handle held for the subtask's
// view and reports how many were dropped.
func (e Engine) ReleaseSubtaskPreviews(subtaskID string) int {
	return e.Previews.ReleaseScope(subtaskID)
}

func (e Engine) completeSubtask(ctx context.Context, tx *sql.Tx, st *domain.Subtask, projectID, actorID, now string) error {
	if err := e.applyDone(ctx, tx, st, true, projectID, now); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "subtask.completed", projectID, "subtask", st.ID, actorID, events.EventPayload{})
}

func (e Engine) reopenSubtask(ctx context.Context, tx *sql.Tx, st *domain.Subtask, projectID, actorID, now string) error {
	if err := e.applyDone(ctx, tx, st, false, projectID, now); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "subtask.reopened", projectID, "subtask", st.ID, actorID, events.EventPayload{})
}

func (e Engine) applyDone(ctx context.Context, tx *sql.Tx, st *domain.Subtask, done bool, projectID, now string) error {
	if err := e.Repo.UpdateSubtaskDone(ctx, tx, st.ID, done, now); err != nil {
		return err
	}
	if err := e.Repo.RecomputeElementProgress(ctx, tx, st.ElementID, now); err != nil {
		return err
	}
	if err := e.Repo.UpdateProjectProgress(ctx, tx, projectID, now); err != nil {
		return err
	}
	st.Done = done
	st.UpdatedAt = now
	return nil
}
