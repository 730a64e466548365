package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/repo"
)

func validBucket(bucket string) bool {
	return domain.RoleForBucket(bucket) != ""
}

// SelectCandidates stores the actor's working selection for the project.
// Ids missing from the roster are dropped as stale; the kept ids are returned.
func (e Engine) SelectCandidates(ctx context.Context, projectID, actorID string, ids []string) ([]string, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	var kept []string
	for _, id := range ids {
		if _, err := e.Repo.GetPerson(ctx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		kept = append(kept, id)
	}
	e.Sessions.SetSelection(actorID, projectID, kept)
	return kept, nil
}

// ClearSelection returns the actor to idle without touching assignments.
func (e Engine) ClearSelection(actorID, projectID string) {
	e.Sessions.Clear(actorID, projectID)
}

// AssignSelected moves the actor's selection into pending confirmation for the
// bucket. Nothing is written until the confirmation decides permanent or
// temporary. Explicit ids override the stored selection.
func (e Engine) AssignSelected(ctx context.Context, projectID, actorID, actorRole, bucket string, ids []string) (domain.PendingConfirmation, error) {
	if !validBucket(bucket) {
		return domain.PendingConfirmation{}, fmt.Errorf("unknown bucket %s", bucket)
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.PendingConfirmation{}, err
	}
	if err := e.Access.RequireAssign(actorRole, bucket); err != nil {
		return domain.PendingConfirmation{}, err
	}
	if len(ids) == 0 {
		ids = e.Sessions.Selection(actorID, projectID)
	}
	var kept []string
	for _, id := range ids {
		if _, err := e.Repo.GetPerson(ctx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return domain.PendingConfirmation{}, err
		}
		kept = append(kept, id)
	}
	if len(kept) == 0 {
		return domain.PendingConfirmation{}, ErrNoSelection
	}
	pending := domain.PendingConfirmation{
		ProjectID: projectID,
		Bucket:    bucket,
		PersonIDs: kept,
	}
	e.Sessions.SetPending(actorID, pending)
	return pending, nil
}

// ConfirmAssignment applies the actor's pending assignment in one transaction.
// Every confirmed person lands in the target bucket and leaves any other
// bucket of the project. A permanent confirmation additionally overwrites each
// person's roster role with the bucket's role; a temporary one never touches
// the roster. Ids that left the roster since selection are skipped.
func (e Engine) ConfirmAssignment(ctx context.Context, projectID, actorID, actorRole string, permanent bool) (domain.AssignmentSet, error) {
	pending := e.Sessions.Pending(actorID, projectID)
	if pending == nil {
		return nil, ErrNoPending
	}
	if err := e.Access.RequireAssign(actorRole, pending.Bucket); err != nil {
		return nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	role := domain.RoleForBucket(pending.Bucket)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var applied []string
	for _, id := range pending.PersonIDs {
		p, err := e.Repo.GetPersonTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if err := e.Repo.InsertAssignment(ctx, tx, projectID, pending.Bucket, id, now); err != nil {
			return nil, err
		}
		if permanent && p.Role != role {
			if err := e.Repo.UpdatePersonRole(ctx, tx, id, role); err != nil {
				return nil, err
			}
			if err := e.Events.Append(ctx, tx, "roster.role_changed", projectID, "person", id, actorID, events.EventPayload{
				"from": p.Role,
				"to":   role,
			}); err != nil {
				return nil, err
			}
		}
		applied = append(applied, id)
	}
	if err := e.Events.Append(ctx, tx, "assignment.confirmed", projectID, "assignment", pending.Bucket, actorID, events.EventPayload{
		"bucket":     pending.Bucket,
		"person_ids": applied,
		"permanent":  permanent,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Sessions.Clear(actorID, projectID)
	return e.Repo.ListAssignments(ctx, projectID)
}

// DismissAssignment abandons the pending assignment without writing anything.
func (e Engine) DismissAssignment(actorID, projectID string) {
	e.Sessions.Clear(actorID, projectID)
}

// RemoveFromBucket takes one person out of a bucket. The roster role is never
// touched; only a permanent confirmation changes roles. Removing someone who
// is not in the bucket is a no-op.
func (e Engine) RemoveFromBucket(ctx context.Context, projectID, actorID, actorRole, bucket, personID string) (domain.AssignmentSet, error) {
	if !validBucket(bucket) {
		return nil, fmt.Errorf("unknown bucket %s", bucket)
	}
	if err := e.Access.RequireAssign(actorRole, bucket); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	err = e.Repo.DeleteAssignment(ctx, tx, projectID, bucket, personID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		if err := e.Events.Append(ctx, tx, "assignment.removed", projectID, "assignment", bucket, actorID, events.EventPayload{
			"bucket":    bucket,
			"person_id": personID,
		}); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListAssignments(ctx, projectID)
}
