package seed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/repo"
)

// Apply loads the demo fixture: one project with elements, subtasks and a
// global roster. Some seeded subtasks are done with no evidence attached;
// they stay done until a reviewer touches their evidence.
func Apply(ctx context.Context, db *sql.DB, now func() time.Time) (domain.Project, error) {
	r := repo.Repo{DB: db}
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)

	if _, err := r.GetProjectByCode(ctx, "PRJ-003"); err == nil {
		return domain.Project{}, fmt.Errorf("seed already applied")
	}

	p := domain.Project{
		ID:         "prj-003",
		Code:       "PRJ-003",
		Name:       "Logistics Facility",
		Location:   "North Industrial Park",
		Status:     domain.StatusPlanning,
		LastUpdate: ts,
		CreatedAt:  ts,
	}
	if err := r.InsertProject(ctx, p); err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfig(ctx, p.ID, config.Default(p.ID)); err != nil {
		return p, fmt.Errorf("seed config: %w", err)
	}

	persons := []domain.Person{
		{ID: "p1", Name: "Alice Navarro", Role: domain.RoleAdmin, Score: 98},
		{ID: "p2", Name: "Victor Hale", Role: domain.RoleArchitect, Score: 91},
		{ID: "p3", Name: "Elena Ruiz", Role: domain.RoleEngineer, Score: 89},
		{ID: "p4", Name: "Marcus Webb", Role: domain.RoleEngineer, Score: 84},
		{ID: "p5", Name: "Sofia Lindgren", Role: domain.RoleForeman, Score: 88},
		{ID: "p6", Name: "Omar Haddad", Role: domain.RoleForeman, Score: 80},
		{ID: "p7", Name: "Jonas Keller", Role: domain.RoleWorker, Score: 86},
		{ID: "p8", Name: "Priya Raman", Role: domain.RoleWorker, Score: 86},
		{ID: "p9", Name: "Diego Fuentes", Role: domain.RoleWorker, Score: 74},
		{ID: "p10", Name: "Mina Okafor", Role: domain.RoleWorker, Score: 69},
	}
	for _, person := range persons {
		person.CreatedAt = ts
		if err := r.InsertPerson(ctx, person); err != nil {
			return p, fmt.Errorf("insert person %s: %w", person.ID, err)
		}
	}

	elements := []domain.Element{
		{ID: "el-foundation", ProjectID: p.ID, Name: "Foundation", ForemanID: "p5", UpdatedAt: ts},
		{ID: "el-steel", ProjectID: p.ID, Name: "Steel Frame", ForemanID: "p6", UpdatedAt: ts},
		{ID: "el-roof", ProjectID: p.ID, Name: "Roofing", ForemanID: "p5", UpdatedAt: ts},
	}
	for _, el := range elements {
		if err := r.InsertElement(ctx, el); err != nil {
			return p, fmt.Errorf("insert element %s: %w", el.ID, err)
		}
	}
	crews := map[string][]string{
		"el-foundation": {"p7", "p8", "p9", "p10"},
		"el-steel":      {"p7", "p9"},
		"el-roof":       {"p8", "p10"},
	}
	for elementID, crew := range crews {
		for _, personID := range crew {
			if err := r.AddElementWorker(ctx, elementID, personID); err != nil {
				return p, err
			}
		}
	}

	subtasks := []domain.Subtask{
		{ID: "st-excavation", ElementID: "el-foundation", Title: "Excavation", Done: true},
		{ID: "st-rebar", ElementID: "el-foundation", Title: "Rebar placement", Done: true},
		{ID: "st-pour", ElementID: "el-foundation", Title: "Concrete pour", Done: false},
		{ID: "st-columns", ElementID: "el-steel", Title: "Erect columns", Done: false},
		{ID: "st-beams", ElementID: "el-steel", Title: "Install beams", Done: false},
		{ID: "st-deck", ElementID: "el-roof", Title: "Roof deck", Done: false},
		{ID: "st-membrane", ElementID: "el-roof", Title: "Waterproof membrane", Done: false},
	}
	for _, st := range subtasks {
		st.CreatedAt = ts
		st.UpdatedAt = ts
		if err := r.InsertSubtask(ctx, st); err != nil {
			return p, fmt.Errorf("insert subtask %s: %w", st.ID, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	for _, el := range elements {
		if err := r.RecomputeElementProgress(ctx, tx, el.ID, ts); err != nil {
			return p, err
		}
	}
	if err := r.UpdateProjectProgress(ctx, tx, p.ID, ts); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return r.GetProject(ctx, p.ID)
}
