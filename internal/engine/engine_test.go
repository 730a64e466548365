package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/engine/access"
	"siteline/internal/migrate"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(""))
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, "PRJ-001", "Test Site", "Nowhere", "tester")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	eng.Config.Project.ID = p.ID
	return testEnv{Engine: eng, Ctx: ctx, Project: p}
}

func (env testEnv) addPerson(t *testing.T, name, role string, score float64) domain.Person {
	t.Helper()
	p, err := env.Engine.AddPerson(env.Ctx, domain.Person{Name: name, Role: role, Score: score}, "tester")
	if err != nil {
		t.Fatalf("add person %s: %v", name, err)
	}
	return p
}

func (env testEnv) addSubtask(t *testing.T, title string) domain.Subtask {
	t.Helper()
	el, err := env.Engine.CreateElement(env.Ctx, env.Project.ID, title+" element", "", "tester")
	if err != nil {
		t.Fatalf("create element: %v", err)
	}
	st, err := env.Engine.CreateSubtask(env.Ctx, el.ID, title, "tester")
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	return st
}

func (env testEnv) upload(t *testing.T, subtaskID string) domain.Evidence {
	t.Helper()
	_, ev, err := env.Engine.UploadEvidence(env.Ctx, engine.EvidenceUploadOptions{
		SubtaskID: subtaskID,
		FileName:  "photo.jpg",
		ByteSize:  1024,
		ActorID:   "foreman-1",
		ActorRole: domain.RoleForeman,
	})
	if err != nil {
		t.Fatalf("upload evidence: %v", err)
	}
	if ev == nil {
		t.Fatalf("expected evidence for foreman upload")
	}
	return *ev
}

func (env testEnv) countEvents(t *testing.T, evtType, entityID string) int {
	t.Helper()
	var count int
	err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type=? AND entity_id=?`, evtType, entityID).Scan(&count)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func TestFirstApprovalCompletesSubtask(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "pour concrete")
	ev := env.upload(t, st.ID)

	updated, err := env.Engine.ApproveEvidence(env.Ctx, ev.ID, "eng-1", domain.RoleEngineer)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !updated.Done {
		t.Fatalf("expected subtask done after first approval")
	}
	if got := env.countEvents(t, "subtask.completed", st.ID); got != 1 {
		t.Fatalf("expected 1 completed event, got %d", got)
	}

	// a second approval must not re-fire the completion
	ev2 := env.upload(t, st.ID)
	updated, err = env.Engine.ApproveEvidence(env.Ctx, ev2.ID, "eng-1", domain.RoleEngineer)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !updated.Done {
		t.Fatalf("expected subtask to stay done")
	}
	if got := env.countEvents(t, "subtask.completed", st.ID); got != 1 {
		t.Fatalf("expected completion to fire once, got %d events", got)
	}
}

func TestRejectingLastApprovedReopens(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "set rebar")
	ev1 := env.upload(t, st.ID)
	ev2 := env.upload(t, st.ID)

	if _, err := env.Engine.ApproveEvidence(env.Ctx, ev1.ID, "eng-1", domain.RoleEngineer); err != nil {
		t.Fatalf("approve ev1: %v", err)
	}
	if _, err := env.Engine.ApproveEvidence(env.Ctx, ev2.ID, "eng-1", domain.RoleEngineer); err != nil {
		t.Fatalf("approve ev2: %v", err)
	}

	// one approved photo remains, so the subtask stays done
	updated, err := env.Engine.RejectEvidence(env.Ctx, ev2.ID, "arch-1", domain.RoleArchitect)
	if err != nil {
		t.Fatalf("reject ev2: %v", err)
	}
	if !updated.Done {
		t.Fatalf("expected done while another approval remains")
	}

	// rejecting the last approved photo reopens
	updated, err = env.Engine.RejectEvidence(env.Ctx, ev1.ID, "arch-1", domain.RoleArchitect)
	if err != nil {
		t.Fatalf("reject ev1: %v", err)
	}
	if updated.Done {
		t.Fatalf("expected reopen after losing last approval")
	}
	if got := env.countEvents(t, "subtask.reopened", st.ID); got != 1 {
		t.Fatalf("expected 1 reopened event, got %d", got)
	}
}

func TestRemovingLastApprovedReopens(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "weld beams")
	ev := env.upload(t, st.ID)
	if _, err := env.Engine.ApproveEvidence(env.Ctx, ev.ID, "eng-1", domain.RoleEngineer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	updated, err := env.Engine.RemoveEvidence(env.Ctx, ev.ID, "foreman-1", domain.RoleForeman)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if updated.Done {
		t.Fatalf("expected reopen after removing only approved photo")
	}
	list, err := env.Engine.Repo.ListEvidence(env.Ctx, st.ID)
	if err != nil {
		t.Fatalf("list evidence: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected evidence row deleted, got %d", len(list))
	}
}

func TestSetDoneRequiresApprovedEvidence(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "install membrane")

	_, err := env.Engine.SetSubtaskDone(env.Ctx, st.ID, true, "foreman-1", domain.RoleForeman)
	if !errors.Is(err, engine.ErrEvidenceRequired) {
		t.Fatalf("expected ErrEvidenceRequired, got %v", err)
	}

	ev := env.upload(t, st.ID)
	if _, err := env.Engine.ApproveEvidence(env.Ctx, ev.ID, "eng-1", domain.RoleEngineer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	updated, err := env.Engine.SetSubtaskDone(env.Ctx, st.ID, false, "foreman-1", domain.RoleForeman)
	if err != nil || updated.Done {
		t.Fatalf("expected manual reopen: %v", err)
	}
	updated, err = env.Engine.SetSubtaskDone(env.Ctx, st.ID, true, "foreman-1", domain.RoleForeman)
	if err != nil || !updated.Done {
		t.Fatalf("expected done with approval standing: %v", err)
	}
}

func TestSetDoneWithoutCapabilityIsNoop(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "seal joints")
	ev := env.upload(t, st.ID)
	if _, err := env.Engine.ApproveEvidence(env.Ctx, ev.ID, "eng-1", domain.RoleEngineer); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// a worker must not be able to reopen a completed subtask
	got, err := env.Engine.SetSubtaskDone(env.Ctx, st.ID, false, "w-1", domain.RoleWorker)
	if err != nil {
		t.Fatalf("set done: %v", err)
	}
	if !got.Done {
		t.Fatalf("expected worker toggle to be ignored")
	}
	stored, err := env.Engine.Repo.GetSubtask(env.Ctx, st.ID)
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if !stored.Done {
		t.Fatalf("expected subtask to stay done")
	}
	if got := env.countEvents(t, "subtask.toggled", st.ID); got != 0 {
		t.Fatalf("expected no toggled event, got %d", got)
	}
}

func TestUploadWithoutCapabilityIsNoop(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "dig trench")
	got, ev, err := env.Engine.UploadEvidence(env.Ctx, engine.EvidenceUploadOptions{
		SubtaskID: st.ID,
		FileName:  "photo.jpg",
		ActorID:   "w-1",
		ActorRole: domain.RoleWorker,
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no evidence for worker upload")
	}
	if got.ID != st.ID || got.Done {
		t.Fatalf("expected subtask returned unchanged")
	}
	list, _ := env.Engine.Repo.ListEvidence(env.Ctx, st.ID)
	if len(list) != 0 {
		t.Fatalf("expected no evidence rows, got %d", len(list))
	}
}

func TestApproveWithoutCapabilityIsNoop(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "pour footing")
	ev := env.upload(t, st.ID)

	got, err := env.Engine.ApproveEvidence(env.Ctx, ev.ID, "foreman-1", domain.RoleForeman)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Done {
		t.Fatalf("expected no completion for foreman approval")
	}
	list, _ := env.Engine.Repo.ListEvidence(env.Ctx, st.ID)
	if len(list) != 1 || list[0].Status != domain.EvidencePending {
		t.Fatalf("expected evidence to stay pending")
	}
}

func TestStaleEvidenceReviewIsNoop(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.Engine.ApproveEvidence(env.Ctx, uuid.New().String(), "eng-1", domain.RoleEngineer)
	if err != nil {
		t.Fatalf("expected nil error for stale id, got %v", err)
	}
	if got.ID != "" {
		t.Fatalf("expected zero subtask for stale id")
	}
}

func TestProgressRollsUpToElementAndProject(t *testing.T) {
	env := newTestEnv(t)
	el, err := env.Engine.CreateElement(env.Ctx, env.Project.ID, "foundation", "", "tester")
	if err != nil {
		t.Fatalf("create element: %v", err)
	}
	st1, err := env.Engine.CreateSubtask(env.Ctx, el.ID, "excavate", "tester")
	if err != nil {
		t.Fatalf("subtask 1: %v", err)
	}
	if _, err := env.Engine.CreateSubtask(env.Ctx, el.ID, "pour", "tester"); err != nil {
		t.Fatalf("subtask 2: %v", err)
	}

	ev := env.upload(t, st1.ID)
	if _, err := env.Engine.ApproveEvidence(env.Ctx, ev.ID, "eng-1", domain.RoleEngineer); err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := env.Engine.Repo.GetElement(env.Ctx, el.ID)
	if err != nil {
		t.Fatalf("get element: %v", err)
	}
	if got.Progress != 50 {
		t.Fatalf("expected element progress 50, got %d", got.Progress)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Progress != 50 {
		t.Fatalf("expected project progress 50, got %d", p.Progress)
	}
	if p.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress status, got %s", p.Status)
	}
}

func TestPermanentConfirmOverwritesRoles(t *testing.T) {
	env := newTestEnv(t)
	w1 := env.addPerson(t, "Worker One", domain.RoleWorker, 80)
	w2 := env.addPerson(t, "Worker Two", domain.RoleWorker, 70)

	kept, err := env.Engine.SelectCandidates(env.Ctx, env.Project.ID, "admin-1", []string{w1.ID, w2.ID})
	if err != nil || len(kept) != 2 {
		t.Fatalf("select: %v (kept %d)", err, len(kept))
	}
	if _, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	set, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(set[domain.BucketEngineers]) != 2 {
		t.Fatalf("expected 2 engineers, got %v", set)
	}
	for _, id := range []string{w1.ID, w2.ID} {
		p, err := env.Engine.Repo.GetPerson(env.Ctx, id)
		if err != nil {
			t.Fatalf("get person: %v", err)
		}
		if p.Role != domain.RoleEngineer {
			t.Fatalf("expected role overwritten to engineer, got %s", p.Role)
		}
	}
	// pending is consumed
	if _, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, true); !errors.Is(err, engine.ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestTemporaryConfirmKeepsRoles(t *testing.T) {
	env := newTestEnv(t)
	w := env.addPerson(t, "Temp Worker", domain.RoleWorker, 60)

	if _, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, []string{w.ID}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	set, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, false)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(set[domain.BucketEngineers]) != 1 {
		t.Fatalf("expected person in engineers bucket")
	}
	p, err := env.Engine.Repo.GetPerson(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("get person: %v", err)
	}
	if p.Role != domain.RoleWorker {
		t.Fatalf("expected role untouched, got %s", p.Role)
	}
}

func TestBucketsStayDisjoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.addPerson(t, "Mover", domain.RoleWorker, 60)

	if _, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, []string{w.ID}); err != nil {
		t.Fatalf("stage engineers: %v", err)
	}
	if _, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, false); err != nil {
		t.Fatalf("confirm engineers: %v", err)
	}
	if _, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketArchitects, []string{w.ID}); err != nil {
		t.Fatalf("stage architects: %v", err)
	}
	set, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, false)
	if err != nil {
		t.Fatalf("confirm architects: %v", err)
	}
	if len(set[domain.BucketEngineers]) != 0 {
		t.Fatalf("expected person removed from engineers, got %v", set[domain.BucketEngineers])
	}
	if len(set[domain.BucketArchitects]) != 1 {
		t.Fatalf("expected person in architects, got %v", set[domain.BucketArchitects])
	}
}

func TestAssignCapabilityDenied(t *testing.T) {
	env := newTestEnv(t)
	w := env.addPerson(t, "Denied", domain.RoleWorker, 50)

	_, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "w-1", domain.RoleWorker, domain.BucketEngineers, []string{w.ID})
	var capErr access.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	// foremen bucket requires engineer or architect, not admin
	_, err = env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketForemen, []string{w.ID})
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapabilityError for admin on foremen, got %v", err)
	}
	_, err = env.Engine.AssignSelected(env.Ctx, env.Project.ID, "eng-1", domain.RoleEngineer, domain.BucketForemen, []string{w.ID})
	if err != nil {
		t.Fatalf("expected engineer allowed on foremen: %v", err)
	}
}

func TestStageWithoutSelectionFails(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, nil)
	if !errors.Is(err, engine.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestStaleSelectionIdsDropped(t *testing.T) {
	env := newTestEnv(t)
	w := env.addPerson(t, "Real", domain.RoleWorker, 55)
	kept, err := env.Engine.SelectCandidates(env.Ctx, env.Project.ID, "admin-1", []string{w.ID, uuid.New().String()})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(kept) != 1 || kept[0] != w.ID {
		t.Fatalf("expected stale id dropped, kept %v", kept)
	}
}

func TestRemoveFromBucket(t *testing.T) {
	env := newTestEnv(t)
	w := env.addPerson(t, "Leaver", domain.RoleWorker, 45)
	if _, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, []string{w.ID}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, false); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	set, err := env.Engine.RemoveFromBucket(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, w.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(set[domain.BucketEngineers]) != 0 {
		t.Fatalf("expected empty engineers bucket, got %v", set[domain.BucketEngineers])
	}
	// removing someone not in the bucket is a no-op
	if _, err := env.Engine.RemoveFromBucket(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, w.ID); err != nil {
		t.Fatalf("expected no-op remove: %v", err)
	}
}

func TestDismissDropsPending(t *testing.T) {
	env := newTestEnv(t)
	w := env.addPerson(t, "Dismissed", domain.RoleWorker, 40)
	if _, err := env.Engine.AssignSelected(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, domain.BucketEngineers, []string{w.ID}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	env.Engine.DismissAssignment("admin-1", env.Project.ID)
	if _, err := env.Engine.ConfirmAssignment(env.Ctx, env.Project.ID, "admin-1", domain.RoleAdmin, true); !errors.Is(err, engine.ErrNoPending) {
		t.Fatalf("expected ErrNoPending after dismiss, got %v", err)
	}
	p, _ := env.Engine.Repo.GetPerson(env.Ctx, w.ID)
	if p.Role != domain.RoleWorker {
		t.Fatalf("expected role untouched after dismiss, got %s", p.Role)
	}
}

func TestPreviewHandlesReleasedWithSubtask(t *testing.T) {
	env := newTestEnv(t)
	st := env.addSubtask(t, "clad walls")
	env.upload(t, st.ID)
	env.upload(t, st.ID)
	if got := env.Engine.Previews.Active(st.ID); got != 2 {
		t.Fatalf("expected 2 active handles, got %d", got)
	}
	if got := env.Engine.ReleaseSubtaskPreviews(st.ID); got != 2 {
		t.Fatalf("expected 2 released, got %d", got)
	}
	if got := env.Engine.Previews.Active(st.ID); got != 0 {
		t.Fatalf("expected no active handles, got %d", got)
	}
}
