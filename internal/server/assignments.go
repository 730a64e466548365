package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"siteline/internal/engine"
)

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/assignments",
		Summary:     "List assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body AssignmentsResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		set, err := e.Repo.ListAssignments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentsResponse `json:"body"`
		}{Body: AssignmentsResponse{ProjectID: input.ProjectID, Buckets: set}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-selection",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/selection",
		Summary:     "Select assignment candidates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SelectionRequest `json:"body"`
	}) (*struct {
		Body SelectionRequest `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kept, err := e.SelectCandidates(ctx, input.ProjectID, principal.ActorID, input.Body.PersonIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SelectionRequest `json:"body"`
		}{Body: SelectionRequest{PersonIDs: kept}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-selection",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/selection",
		Summary:     "Clear selection",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e.ClearSelection(principal.ActorID, input.ProjectID)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-selected",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/assignments/{bucket}",
		Summary:     "Stage assignment for confirmation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Bucket    string        `path:"bucket" enum:"architects,engineers,foremen,workers"`
		Body      AssignRequest `json:"body"`
	}) (*struct {
		Body PendingResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pending, err := e.AssignSelected(ctx, input.ProjectID, principal.ActorID, principal.Role, input.Bucket, input.Body.PersonIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PendingResponse `json:"body"`
		}{Body: PendingResponse{Pending: pending}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-assignment",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/assignments/confirm",
		Summary:     "Confirm pending assignment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      ConfirmRequest `json:"body"`
	}) (*struct {
		Body AssignmentsResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		set, err := e.ConfirmAssignment(ctx, input.ProjectID, principal.ActorID, principal.Role, input.Body.Permanent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentsResponse `json:"body"`
		}{Body: AssignmentsResponse{ProjectID: input.ProjectID, Buckets: set}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-assignment",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/assignments/dismiss",
		Summary:     "Dismiss pending assignment",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e.DismissAssignment(principal.ActorID, input.ProjectID)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-assignment",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/assignments/{bucket}/{person_id}",
		Summary:     "Remove person from bucket",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Bucket    string `path:"bucket" enum:"architects,engineers,foremen,workers"`
		PersonID  string `path:"person_id"`
	}) (*struct {
		Body AssignmentsResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		set, err := e.RemoveFromBucket(ctx, input.ProjectID, principal.ActorID, principal.Role, input.Bucket, input.PersonID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentsResponse `json:"body"`
		}{Body: AssignmentsResponse{ProjectID: input.ProjectID, Buckets: set}}, nil
	})
}
