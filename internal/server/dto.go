package server

import (
	"siteline/internal/domain"
)

type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	PersonID string `json:"person_id,omitempty"`
	Role     string `json:"role,omitempty" enum:"admin,architect,engineer,foreman,worker"`
}

type LoginResponse struct {
	Token   string `json:"token"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

type CreateProjectRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

type CreateElementRequest struct {
	Name      string `json:"name"`
	ForemanID string `json:"foreman_id,omitempty"`
}

type CreateSubtaskRequest struct {
	Title string `json:"title"`
}

type SetDoneRequest struct {
	Done bool `json:"done"`
}

type UploadEvidenceRequest struct {
	FileName string `json:"file_name"`
	ByteSize int64  `json:"byte_size,omitempty"`
}

type AddPersonRequest struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Role     string  `json:"role" enum:"admin,architect,engineer,foreman,worker"`
	Score    float64 `json:"score,omitempty"`
	PhotoURL string  `json:"photo_url,omitempty"`
}

type SelectionRequest struct {
	PersonIDs []string `json:"person_ids"`
}

type AssignRequest struct {
	PersonIDs []string `json:"person_ids,omitempty"`
}

type ConfirmRequest struct {
	Permanent bool `json:"permanent"`
}

type SubtaskResponse struct {
	domain.Subtask
	Evidence []domain.Evidence `json:"evidence,omitempty"`
}

type ElementResponse struct {
	domain.Element
	Foreman    *domain.Person  `json:"foreman,omitempty"`
	TopWorkers []domain.Person `json:"top_workers,omitempty"`
}

type AssignmentsResponse struct {
	ProjectID string               `json:"project_id"`
	Buckets   domain.AssignmentSet `json:"buckets"`
}

type PendingResponse struct {
	Pending domain.PendingConfirmation `json:"pending"`
}

type ReleasedResponse struct {
	Released int `json:"released"`
}
