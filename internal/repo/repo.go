package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var location sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.Name, &location, &p.Status, &p.Progress, &p.LastUpdate, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if location.Valid {
		p.Location = location.String
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,code,name,location,status,progress,last_update,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, nullable(p.Location), p.Status, p.Progress, p.LastUpdate, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,code,name,location,status,progress,last_update,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByCode(ctx context.Context, code string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,code,name,location,status,progress,last_update,created_at FROM projects WHERE code=?`, code))
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// ListProjects returns projects in dashboard order: progress desc, code asc.
func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,COALESCE(location,''),status,progress,last_update,created_at FROM projects ORDER BY progress DESC, code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Location, &p.Status, &p.Progress, &p.LastUpdate, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// UpdateProjectProgress recomputes the stored progress and derived status from
// the project's elements inside the caller's tx.
func (r Repo) UpdateProjectProgress(ctx context.Context, tx *sql.Tx, projectID, now string) error {
	var avg sql.NullFloat64
	err := tx.QueryRowContext(ctx, `SELECT AVG(progress) FROM elements WHERE project_id=?`, projectID).Scan(&avg)
	if err != nil {
		return err
	}
	progress := 0
	if avg.Valid {
		progress = int(avg.Float64 + 0.5)
	}
	_, err = tx.ExecContext(ctx, `UPDATE projects SET progress=?, status=?, last_update=? WHERE id=?`,
		progress, domain.DeriveStatus(progress), now, projectID)
	return err
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,updated_at) VALUES (?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertPerson(ctx context.Context, p domain.Person) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO persons(id,name,role,score,photo_url,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.Role, p.Score, nullable(p.PhotoURL), p.CreatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	var p domain.Person
	var photo sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,score,photo_url,created_at FROM persons WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Role, &p.Score, &photo, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if photo.Valid {
		p.PhotoURL = photo.String
	}
	return p, err
}

func (r Repo) GetPersonTx(ctx context.Context, tx *sql.Tx, id string) (domain.Person, error) {
	var p domain.Person
	var photo sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,name,role,score,photo_url,created_at FROM persons WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Role, &p.Score, &photo, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if photo.Valid {
		p.PhotoURL = photo.String
	}
	return p, err
}

func (r Repo) ListPersons(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,role,score,COALESCE(photo_url,''),created_at FROM persons ORDER BY score DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.Score, &p.PhotoURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdatePersonRole(ctx context.Context, tx *sql.Tx, id, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE persons SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertElement(ctx context.Context, e domain.Element) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO elements(id,project_id,name,progress,foreman_id,updated_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Name, e.Progress, nullable(e.ForemanID), e.UpdatedAt)
	return err
}

func (r Repo) GetElement(ctx context.Context, id string) (domain.Element, error) {
	var e domain.Element
	var foreman sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,progress,foreman_id,updated_at FROM elements WHERE id=?`, id).
		Scan(&e.ID, &e.ProjectID, &e.Name, &e.Progress, &foreman, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if foreman.Valid {
		e.ForemanID = foreman.String
	}
	return e, err
}

func (r Repo) ListElements(ctx context.Context, projectID string) ([]domain.Element, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,progress,COALESCE(foreman_id,''),updated_at FROM elements WHERE project_id=? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Element
	for rows.Next() {
		var e domain.Element
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Progress, &e.ForemanID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) AddElementWorker(ctx context.Context, elementID, personID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO element_workers(element_id,person_id) VALUES (?,?)`, elementID, personID)
	return err
}

// ListElementWorkers returns the element's crew ordered by score desc, name asc.
func (r Repo) ListElementWorkers(ctx context.Context, elementID string) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.id,p.name,p.role,p.score,COALESCE(p.photo_url,''),p.created_at
FROM element_workers w JOIN persons p ON p.id=w.person_id
WHERE w.element_id=? ORDER BY p.score DESC, p.name ASC`, elementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.Score, &p.PhotoURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) InsertSubtask(ctx context.Context, s domain.Subtask) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO subtasks(id,element_id,title,done,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ElementID, s.Title, boolInt(s.Done), s.CreatedAt, s.UpdatedAt)
	return err
}

func scanSubtask(scan func(...any) error) (domain.Subtask, error) {
	var s domain.Subtask
	var done int
	err := scan(&s.ID, &s.ElementID, &s.Title, &done, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Done = done != 0
	return s, err
}

func (r Repo) GetSubtask(ctx context.Context, id string) (domain.Subtask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,element_id,title,done,created_at,updated_at FROM subtasks WHERE id=?`, id)
	return scanSubtask(row.Scan)
}

func (r Repo) GetSubtaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Subtask, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,element_id,title,done,created_at,updated_at FROM subtasks WHERE id=?`, id)
	return scanSubtask(row.Scan)
}

func (r Repo) ListSubtasks(ctx context.Context, elementID string) ([]domain.Subtask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,element_id,title,done,created_at,updated_at FROM subtasks WHERE element_id=? ORDER BY created_at ASC, id ASC`, elementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) UpdateSubtaskDone(ctx context.Context, tx *sql.Tx, id string, done bool, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE subtasks SET done=?, updated_at=? WHERE id=?`, boolInt(done), now, id)
	return err
}

// RecomputeElementProgress sets element progress to the rounded percentage of
// done subtasks inside the caller's tx.
func (r Repo) RecomputeElementProgress(ctx context.Context, tx *sql.Tx, elementID, now string) error {
	var total, done int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(done),0) FROM subtasks WHERE element_id=?`, elementID).Scan(&total, &done)
	if err != nil {
		return err
	}
	progress := 0
	if total > 0 {
		progress = (done*100 + total/2) / total
	}
	_, err = tx.ExecContext(ctx, `UPDATE elements SET progress=?, updated_at=? WHERE id=?`, progress, now, elementID)
	return err
}

func (r Repo) InsertEvidence(ctx context.Context, tx *sql.Tx, ev domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,subtask_id,preview_url,file_name,byte_size,uploaded_by,uploaded_at,status) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.SubtaskID, ev.PreviewURL, ev.FileName, ev.ByteSize, ev.UploadedBy, ev.UploadedAt, ev.Status)
	return err
}

func scanEvidence(scan func(...any) error) (domain.Evidence, error) {
	var ev domain.Evidence
	err := scan(&ev.ID, &ev.SubtaskID, &ev.PreviewURL, &ev.FileName, &ev.ByteSize, &ev.UploadedBy, &ev.UploadedAt, &ev.Status)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	return ev, err
}

func (r Repo) GetEvidence(ctx context.Context, id string) (domain.Evidence, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,subtask_id,preview_url,file_name,byte_size,uploaded_by,uploaded_at,status FROM evidence WHERE id=?`, id)
	return scanEvidence(row.Scan)
}

func (r Repo) GetEvidenceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Evidence, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,subtask_id,preview_url,file_name,byte_size,uploaded_by,uploaded_at,status FROM evidence WHERE id=?`, id)
	return scanEvidence(row.Scan)
}

func (r Repo) ListEvidence(ctx context.Context, subtaskID string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subtask_id,preview_url,file_name,byte_size,uploaded_by,uploaded_at,status FROM evidence WHERE subtask_id=? ORDER BY uploaded_at ASC, id ASC`, subtaskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, nil
}

func (r Repo) UpdateEvidenceStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE evidence SET status=? WHERE id=?`, status, id)
	return err
}

func (r Repo) DeleteEvidence(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE id=?`, id)
	return err
}

// CountApprovedEvidence counts approved evidence rows for a subtask inside the
// caller's tx.
func (r Repo) CountApprovedEvidence(ctx context.Context, tx *sql.Tx, subtaskID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence WHERE subtask_id=? AND status=?`, subtaskID, domain.EvidenceApproved).Scan(&n)
	return n, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, projectID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) GetWebhookCursor(ctx context.Context, hookID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE hook_id=?`, hookID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, hookID string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(hook_id,last_event_id) VALUES (?,?)
ON CONFLICT(hook_id) DO UPDATE SET last_event_id=excluded.last_event_id`, hookID, eventID)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
