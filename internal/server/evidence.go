package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"siteline/internal/domain"
	"siteline/internal/engine"
)

func registerElements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-element",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/elements",
		Summary:       "Create element",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      CreateElementRequest `json:"body"`
	}) (*struct {
		Body domain.Element `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		el, err := e.CreateElement(ctx, input.ProjectID, input.Body.Name, input.Body.ForemanID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Element `json:"body"`
		}{Body: el}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-elements",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/elements",
		Summary:     "List elements",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []ElementResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		elements, err := e.Repo.ListElements(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ElementResponse, 0, len(elements))
		for _, el := range elements {
			item := ElementResponse{Element: el}
			if el.ForemanID != "" {
				if foreman, err := e.Repo.GetPerson(ctx, el.ForemanID); err == nil {
					item.Foreman = &foreman
				}
			}
			top, err := e.TopWorkers(ctx, el.ID, 3)
			if err != nil {
				return nil, handleError(err)
			}
			item.TopWorkers = top
			res = append(res, item)
		}
		return &struct {
			Body []ElementResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-element-workers",
		Method:      http.MethodGet,
		Path:        "/elements/{id}/workers",
		Summary:     "List element crew",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Person `json:"body"`
	}, error) {
		el, err := e.Repo.GetElement(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		crew, err := e.Repo.ListElementWorkers(ctx, el.ID)
		if err != nil {
			return nil, handleError(err)
		}
		// foreman leads the hierarchy listing
		if el.ForemanID != "" {
			if foreman, err := e.Repo.GetPerson(ctx, el.ForemanID); err == nil {
				crew = append([]domain.Person{foreman}, crew...)
			}
		}
		return &struct {
			Body []domain.Person `json:"body"`
		}{Body: crew}, nil
	})
}

func registerSubtasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-subtask",
		Method:        http.MethodPost,
		Path:          "/elements/{id}/subtasks",
		Summary:       "Create subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CreateSubtaskRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.CreateSubtask(ctx, input.ID, input.Body.Title, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/elements/{id}/subtasks",
		Summary:     "List subtasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []SubtaskResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetElement(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		subtasks, err := e.Repo.ListSubtasks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SubtaskResponse, 0, len(subtasks))
		for _, st := range subtasks {
			evidence, err := e.Repo.ListEvidence(ctx, st.ID)
			if err != nil {
				return nil, handleError(err)
			}
			res = append(res, SubtaskResponse{Subtask: st, Evidence: evidence})
		}
		return &struct {
			Body []SubtaskResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subtask",
		Method:      http.MethodGet,
		Path:        "/subtasks/{id}",
		Summary:     "Get subtask",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SubtaskResponse `json:"body"`
	}, error) {
		st, err := e.Repo.GetSubtask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		evidence, err := e.Repo.ListEvidence(ctx, st.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubtaskResponse `json:"body"`
		}{Body: SubtaskResponse{Subtask: st, Evidence: evidence}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-done",
		Method:      http.MethodPatch,
		Path:        "/subtasks/{id}",
		Summary:     "Toggle subtask",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetDoneRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Access.RequireUpload(principal.Role); err != nil {
			return nil, handleError(err)
		}
		st, err := e.SetSubtaskDone(ctx, input.ID, input.Body.Done, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-previews",
		Method:      http.MethodDelete,
		Path:        "/subtasks/{id}/previews",
		Summary:     "Release preview handles",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ReleasedResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		n := e.ReleaseSubtaskPreviews(input.ID)
		return &struct {
			Body ReleasedResponse `json:"body"`
		}{Body: ReleasedResponse{Released: n}}, nil
	})
}

func registerEvidence(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-evidence",
		Method:        http.MethodPost,
		Path:          "/subtasks/{id}/evidence",
		Summary:       "Upload evidence",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UploadEvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// An upload without a file never produces evidence. The engine would
		// treat it as a no-op; API callers get an explicit rejection instead.
		if input.Body.FileName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "file_name is required", nil)
		}
		if err := e.Access.RequireUpload(principal.Role); err != nil {
			return nil, handleError(err)
		}
		_, ev, err := e.UploadEvidence(ctx, engine.EvidenceUploadOptions{
			SubtaskID: input.ID,
			FileName:  input.Body.FileName,
			ByteSize:  input.Body.ByteSize,
			ActorID:   principal.ActorID,
			ActorRole: principal.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if ev == nil {
			return nil, newAPIError(http.StatusForbidden, "capability_denied", "evidence upload not permitted", map[string]any{"role": principal.Role})
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: *ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/{id}/approve",
		Summary:     "Approve evidence",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		return reviewEvidence(ctx, e, input.ID, e.ApproveEvidence)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/{id}/reject",
		Summary:     "Reject evidence",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		return reviewEvidence(ctx, e, input.ID, e.RejectEvidence)
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-evidence",
		Method:      http.MethodDelete,
		Path:        "/evidence/{id}",
		Summary:     "Remove evidence",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Access.RequireUpload(principal.Role); err != nil {
			return nil, handleError(err)
		}
		st, err := e.RemoveEvidence(ctx, input.ID, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: st}, nil
	})
}

func reviewEvidence(ctx context.Context, e engine.Engine, evidenceID string, op func(context.Context, string, string, string) (domain.Subtask, error)) (*struct {
	Body domain.Subtask `json:"body"`
}, error) {
	principal, authErr := requirePrincipal(ctx)
	if authErr != nil {
		return nil, authErr
	}
	if err := e.Access.RequireApprove(principal.Role); err != nil {
		return nil, handleError(err)
	}
	st, err := op(ctx, evidenceID, principal.ActorID, principal.Role)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body domain.Subtask `json:"body"`
	}{Body: st}, nil
}
