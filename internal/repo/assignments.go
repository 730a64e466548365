package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

// ListAssignments returns the full assignment set for a project, every bucket
// present even when empty.
func (r Repo) ListAssignments(ctx context.Context, projectID string) (domain.AssignmentSet, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT bucket, person_id FROM assignments WHERE project_id=? ORDER BY created_at ASC, person_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := domain.AssignmentSet{}
	for _, b := range domain.Buckets() {
		set[b] = []string{}
	}
	for rows.Next() {
		var bucket, personID string
		if err := rows.Scan(&bucket, &personID); err != nil {
			return nil, err
		}
		set[bucket] = append(set[bucket], personID)
	}
	return set, rows.Err()
}

// BucketOf returns the bucket holding the person in the project, or "" when
// unassigned.
func (r Repo) BucketOf(ctx context.Context, tx *sql.Tx, projectID, personID string) (string, error) {
	var bucket string
	err := tx.QueryRowContext(ctx, `SELECT bucket FROM assignments WHERE project_id=? AND person_id=?`, projectID, personID).Scan(&bucket)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return bucket, err
}

// InsertAssignment places the person into the bucket, displacing any row the
// person holds in another bucket of the same project.
func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, projectID, bucket, personID, now string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE project_id=? AND person_id=? AND bucket<>?`, projectID, personID, bucket); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO assignments(project_id,bucket,person_id,created_at) VALUES (?,?,?,?)`,
		projectID, bucket, personID, now)
	return err
}

// DeleteAssignment removes the person from the bucket. Reports ErrNotFound when
// no row matched.
func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, projectID, bucket, personID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE project_id=? AND bucket=? AND person_id=?`, projectID, bucket, personID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountDistinctTopWorkers counts distinct persons appearing in any element's
// top three workers across the project.
func (r Repo) CountDistinctTopWorkers(ctx context.Context, projectID string) (int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT w.element_id, w.person_id
FROM element_workers w
JOIN elements e ON e.id=w.element_id
JOIN persons p ON p.id=w.person_id
WHERE e.project_id=?
ORDER BY w.element_id, p.score DESC, p.name ASC`, projectID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	seen := map[string]struct{}{}
	var current string
	taken := 0
	for rows.Next() {
		var elementID, personID string
		if err := rows.Scan(&elementID, &personID); err != nil {
			return 0, err
		}
		if elementID != current {
			current = elementID
			taken = 0
		}
		if taken < 3 {
			seen[personID] = struct{}{}
			taken++
		}
	}
	return len(seen), rows.Err()
}
