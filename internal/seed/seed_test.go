package seed_test

import (
	"context"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/seed"
)

func openSeeded(t *testing.T) (engine.Engine, domain.Project) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fixed := func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	p, err := seed.Apply(context.Background(), conn, fixed)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	eng := engine.New(conn, config.Default(p.ID))
	eng.Now = fixed
	return eng, p
}

func TestSeedIsIdempotentGuarded(t *testing.T) {
	eng, p := openSeeded(t)
	if p.Code != "PRJ-003" {
		t.Fatalf("unexpected project code %s", p.Code)
	}
	if _, err := seed.Apply(context.Background(), eng.DB, nil); err == nil {
		t.Fatalf("expected second apply to fail")
	}
}

func TestSeedProgressRollup(t *testing.T) {
	eng, p := openSeeded(t)
	ctx := context.Background()
	el, err := eng.Repo.GetElement(ctx, "el-foundation")
	if err != nil {
		t.Fatalf("get element: %v", err)
	}
	// 2 of 3 foundation subtasks are done
	if el.Progress != 67 {
		t.Fatalf("expected foundation progress 67, got %d", el.Progress)
	}
	got, err := eng.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	// elements at 67, 0, 0 average to 22
	if got.Progress != 22 {
		t.Fatalf("expected project progress 22, got %d", got.Progress)
	}
	if got.Status != domain.StatusPlanning {
		t.Fatalf("expected planning status, got %s", got.Status)
	}
}

func TestSeededDoneSubtaskStaysDoneUntilTouched(t *testing.T) {
	eng, _ := openSeeded(t)
	ctx := context.Background()

	st, err := eng.Repo.GetSubtask(ctx, "st-rebar")
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if !st.Done {
		t.Fatalf("expected seeded subtask done")
	}

	// uploading a photo alone does not change standing
	_, ev, err := eng.UploadEvidence(ctx, engine.EvidenceUploadOptions{
		SubtaskID: st.ID,
		FileName:  "rebar.jpg",
		ActorID:   "p5",
		ActorRole: domain.RoleForeman,
	})
	if err != nil || ev == nil {
		t.Fatalf("upload: %v", err)
	}
	st, _ = eng.Repo.GetSubtask(ctx, st.ID)
	if !st.Done {
		t.Fatalf("expected done after pending upload")
	}

	// rejecting the pending photo leaves zero approved while done: reopen
	st, err = eng.RejectEvidence(ctx, ev.ID, "p3", domain.RoleEngineer)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if st.Done {
		t.Fatalf("expected reopen once a reviewer touched the evidence")
	}
}

func TestSeedTopWorkers(t *testing.T) {
	eng, p := openSeeded(t)
	ctx := context.Background()
	top, err := eng.TopWorkers(ctx, "el-foundation", 3)
	if err != nil {
		t.Fatalf("top workers: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("expected 3 top workers, got %d", len(top))
	}
	// p7 and p8 tie at 86, name breaks the tie
	if top[0].ID != "p7" || top[1].ID != "p8" || top[2].ID != "p9" {
		t.Fatalf("unexpected top order: %s %s %s", top[0].ID, top[1].ID, top[2].ID)
	}
	status, err := eng.ProjectStatus(ctx, p.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.SubtaskCount != 7 || status.DoneCount != 2 {
		t.Fatalf("unexpected counts: %d subtasks, %d done", status.SubtaskCount, status.DoneCount)
	}
}
