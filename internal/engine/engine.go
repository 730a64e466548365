package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/engine/access"
	"siteline/internal/events"
	"siteline/internal/previews"
	"siteline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Access   access.Service
	Previews *previews.Store
	Sessions *SessionStore
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Access:   access.Service{Config: cfg},
		Previews: previews.NewStore(),
		Sessions: NewSessionStore(),
		Now:      time.Now,
	}
}

var (
	ErrCodeExists       = errors.New("project code already exists")
	ErrEvidenceRequired = errors.New("approved evidence required to complete subtask")
	ErrNoSelection      = errors.New("no candidates selected")
	ErrNoPending        = errors.New("no assignment pending confirmation")
)

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateProject registers a project starting at zero progress.
func (e Engine) CreateProject(ctx context.Context, code, name, location, actorID string) (domain.Project, error) {
	if code == "" {
		return domain.Project{}, errors.New("code is required")
	}
	if name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetProjectByCode(ctx, code); err == nil {
		return domain.Project{}, ErrCodeExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:         uuid.New().String(),
		Code:       code,
		Name:       name,
		Location:   location,
		Status:     domain.StatusPlanning,
		Progress:   0,
		LastUpdate: now,
		CreatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,code,name,location,status,progress,last_update,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, nullable(p.Location), p.Status, p.Progress, p.LastUpdate, p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, actorID, events.EventPayload{"code": p.Code, "name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// CreateElement adds a construction element to a project.
func (e Engine) CreateElement(ctx context.Context, projectID, name, foremanID, actorID string) (domain.Element, error) {
	if name == "" {
		return domain.Element{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Element{}, err
	}
	if foremanID != "" {
		if _, err := e.Repo.GetPerson(ctx, foremanID); err != nil {
			return domain.Element{}, fmt.Errorf("foreman %s: %w", foremanID, err)
		}
	}
	el := domain.Element{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		ForemanID: foremanID,
		UpdatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Element{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO elements(id,project_id,name,progress,foreman_id,updated_at) VALUES (?,?,?,?,?,?)`,
		el.ID, el.ProjectID, el.Name, el.Progress, nullable(el.ForemanID), el.UpdatedAt); err != nil {
		return domain.Element{}, err
	}
	if err := e.Events.Append(ctx, tx, "element.created", projectID, "element", el.ID, actorID, events.EventPayload{"name": el.Name}); err != nil {
		return domain.Element{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Element{}, err
	}
	return el, nil
}

// CreateSubtask adds an open subtask to an element and refreshes progress.
func (e Engine) CreateSubtask(ctx context.Context, elementID, title, actorID string) (domain.Subtask, error) {
	if title == "" {
		return domain.Subtask{}, errors.New("title is required")
	}
	el, err := e.Repo.GetElement(ctx, elementID)
	if err != nil {
		return domain.Subtask{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	st := domain.Subtask{
		ID:        uuid.New().String(),
		ElementID: elementID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO subtasks(id,element_id,title,done,created_at,updated_at) VALUES (?,?,?,0,?,?)`,
		st.ID, st.ElementID, st.Title, st.CreatedAt, st.UpdatedAt); err != nil {
		return domain.Subtask{}, err
	}
	if err := e.Repo.RecomputeElementProgress(ctx, tx, elementID, now); err != nil {
		return domain.Subtask{}, err
	}
	if err := e.Repo.UpdateProjectProgress(ctx, tx, el.ProjectID, now); err != nil {
		return domain.Subtask{}, err
	}
	if err := e.Events.Append(ctx, tx, "subtask.created", el.ProjectID, "subtask", st.ID, actorID, events.EventPayload{"title": st.Title}); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return st, nil
}

// AddPerson registers a roster member.
func (e Engine) AddPerson(ctx context.Context, p domain.Person, actorID string) (domain.Person, error) {
	if p.Name == "" {
		return p, errors.New("name is required")
	}
	if domain.RoleForBucket(p.Role) == "" && p.Role != domain.RoleAdmin &&
		p.Role != domain.RoleArchitect && p.Role != domain.RoleEngineer &&
		p.Role != domain.RoleForeman && p.Role != domain.RoleWorker {
		return p, fmt.Errorf("unknown role %s", p.Role)
	}
	if p.Score < 0 {
		return p, errors.New("score must be non-negative")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO persons(id,name,role,score,photo_url,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.Role, p.Score, nullable(p.PhotoURL), p.CreatedAt); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "roster.person_added", "", "person", p.ID, actorID, events.EventPayload{"name": p.Name, "role": p.Role}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ProjectStatus summarizes a project for the dashboard.
type ProjectStatus struct {
	Project         domain.Project `json:"project"`
	ElementCount    int            `json:"element_count"`
	SubtaskCount    int            `json:"subtask_count"`
	DoneCount       int            `json:"done_count"`
	TopWorkerCount  int            `json:"top_worker_count"`
	AverageProgress int            `json:"average_progress"`
}

func (e Engine) ProjectStatus(ctx context.Context, projectID string) (ProjectStatus, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ProjectStatus{}, err
	}
	var status ProjectStatus
	status.Project = p
	var avg float64
	err = e.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(progress),0) FROM elements WHERE project_id=?`, projectID).
		Scan(&status.ElementCount, &avg)
	if err != nil {
		return status, err
	}
	status.AverageProgress = int(avg + 0.5)
	err = e.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(s.done),0) FROM subtasks s JOIN elements e ON e.id=s.element_id WHERE e.project_id=?`, projectID).
		Scan(&status.SubtaskCount, &status.DoneCount)
	if err != nil {
		return status, err
	}
	status.TopWorkerCount, err = e.Repo.CountDistinctTopWorkers(ctx, projectID)
	if err != nil {
		return status, err
	}
	return status, nil
}

// TopWorkers returns the element's best crew members by score, ties broken by
// name.
func (e Engine) TopWorkers(ctx context.Context, elementID string, limit int) ([]domain.Person, error) {
	if limit <= 0 {
		limit = 3
	}
	workers, err := e.Repo.ListElementWorkers(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if len(workers) > limit {
		workers = workers[:limit]
	}
	return workers, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
