package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"verifika/internal/domain"
	"verifika/internal/engine"
	"verifika/internal/notify"
	"verifika/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Notifier *notify.Dispatcher
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"cannot transition from approved to in_review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Verifika API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Verifika API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerActivities(group, cfg.Engine)
	registerValidations(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerSweep(group, cfg.Engine)
	registerNotifications(group, cfg.Notifier)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var it *engine.IllegalTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(),
			map[string]any{"from": it.From, "to": it.To})
	}
	switch {
	case errors.Is(err, engine.ErrValidationNotFound),
		errors.Is(err, engine.ErrParentNotFound),
		errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrConcurrentModification):
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), nil)
	case errors.Is(err, engine.ErrNotInReview),
		errors.Is(err, engine.ErrAlreadyTerminal):
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrDepthExceeded):
		return newAPIError(http.StatusUnprocessableEntity, "depth_exceeded", err.Error(), nil)
	case errors.Is(err, engine.ErrNotAuthor):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "requires"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "must be"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "only completed"),
		strings.Contains(lowered, "cannot review"),
		strings.Contains(lowered, "already has an open"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "no supervisor"):
		return newAPIError(http.StatusUnprocessableEntity, "no_supervisor", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Verifika API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.CreateUser(ctx, domain.User{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			Role:     input.Body.Role,
			ClientID: input.Body.ClientID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Create activity",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		a, err := e.CreateActivity(ctx, domain.Activity{
			ID:           input.Body.ID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			TechnicianID: input.Body.TechnicianID,
			ClientID:     input.Body.ClientID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		items, err := e.Repo.ListActivities(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-activity-status",
		Method:      http.MethodPatch,
		Path:        "/activities/{activity_id}/status",
		Summary:     "Set activity status",
	}, func(ctx context.Context, input *struct {
		ActivityID string                `path:"activity_id"`
		Body       ActivityStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		a, err := e.SetActivityStatus(ctx, input.ActivityID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})
}

func registerValidations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-validation",
		Method:        http.MethodPost,
		Path:          "/validations",
		Summary:       "Open a validation for a completed activity",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateValidationRequest `json:"body"`
	}) (*struct {
		Body domain.Validation `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.CreateValidation(ctx, engine.ValidationCreateOptions{
			ID:           input.Body.ID,
			ActivityID:   input.Body.ActivityID,
			ReviewerID:   input.Body.ReviewerID,
			DeadlineDays: input.Body.DeadlineDays,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Validation `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validations",
		Method:      http.MethodGet,
		Path:        "/validations",
		Summary:     "List validations",
	}, func(ctx context.Context, input *struct {
		Status       []string `query:"status"`
		ClientID     string   `query:"client_id"`
		TechnicianID string   `query:"technician_id"`
		ReviewerID   string   `query:"reviewer_id"`
		Limit        int      `query:"limit"`
	}) (*struct {
		Body []domain.Validation `json:"body"`
	}, error) {
		items, err := e.Repo.ListValidations(ctx, repo.ValidationFilters{
			Status:       input.Status,
			ClientID:     input.ClientID,
			TechnicianID: input.TechnicianID,
			ReviewerID:   input.ReviewerID,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Validation `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validation",
		Method:      http.MethodGet,
		Path:        "/validations/{validation_id}",
		Summary:     "Get validation",
	}, func(ctx context.Context, input *struct {
		ValidationID string `path:"validation_id"`
	}) (*struct {
		Body domain.Validation `json:"body"`
	}, error) {
		v, err := e.GetValidation(ctx, input.ValidationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Validation `json:"body"`
		}{Body: v}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	type validationPath struct {
		ValidationID string `path:"validation_id"`
	}
	type validationOut struct {
		Body domain.Validation `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-review",
		Method:      http.MethodPost,
		Path:        "/validations/{validation_id}/start",
		Summary:     "Start reviewing",
	}, func(ctx context.Context, input *validationPath) (*validationOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.StartReview(ctx, input.ValidationID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &validationOut{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-validation",
		Method:      http.MethodPost,
		Path:        "/validations/{validation_id}/approve",
		Summary:     "Approve",
	}, func(ctx context.Context, input *struct {
		ValidationID string         `path:"validation_id"`
		Body         ApproveRequest `json:"body"`
	}) (*validationOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.Validate(ctx, engine.ValidateOptions{
			ValidationID:   input.ValidationID,
			Score:          input.Body.Score,
			CriteriaScores: input.Body.CriteriaScores,
			PrimaryComment: input.Body.Comment,
			Positives:      input.Body.Positives,
			Improvements:   input.Body.Improvements,
			BusinessImpact: input.Body.BusinessImpact,
			Satisfaction:   input.Body.Satisfaction,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &validationOut{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-validation",
		Method:      http.MethodPost,
		Path:        "/validations/{validation_id}/reject",
		Summary:     "Reject",
	}, func(ctx context.Context, input *struct {
		ValidationID string        `path:"validation_id"`
		Body         RejectRequest `json:"body"`
	}) (*validationOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.Reject(ctx, engine.RejectOptions{
			ValidationID:    input.ValidationID,
			PrimaryComment:  input.Body.Comment,
			RequiredChanges: input.Body.RequiredChanges,
			Improvements:    input.Body.Improvements,
			BusinessImpact:  input.Body.BusinessImpact,
			Satisfaction:    input.Body.Satisfaction,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &validationOut{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-validation",
		Method:      http.MethodPost,
		Path:        "/validations/{validation_id}/escalate",
		Summary:     "Escalate to supervisor",
	}, func(ctx context.Context, input *struct {
		ValidationID string          `path:"validation_id"`
		Body         EscalateRequest `json:"body"`
	}) (*validationOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.Escalate(ctx, engine.EscalateOptions{
			ValidationID: input.ValidationID,
			SupervisorID: input.Body.SupervisorID,
			Reason:       input.Body.Reason,
			Urgency:      input.Body.Urgency,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &validationOut{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-validation",
		Method:      http.MethodPost,
		Path:        "/validations/{validation_id}/reopen",
		Summary:     "Reopen an approved validation",
	}, func(ctx context.Context, input *struct {
		ValidationID string        `path:"validation_id"`
		Body         ReopenRequest `json:"body"`
	}) (*validationOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.Reopen(ctx, engine.ReopenOptions{
			ValidationID: input.ValidationID,
			Reason:       input.Body.Reason,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &validationOut{Body: v}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/validations/{validation_id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ValidationID string               `path:"validation_id"`
		Body         CreateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateComment(ctx, engine.CommentCreateOptions{
			ID:           input.Body.ID,
			ValidationID: input.ValidationID,
			ParentID:     input.Body.ParentID,
			AuthorID:     actorID,
			Body:         input.Body.Body,
			Type:         input.Body.Type,
			Attachments:  input.Body.Attachments,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/validations/{validation_id}/comments",
		Summary:     "List comment thread",
	}, func(ctx context.Context, input *struct {
		ValidationID string `path:"validation_id"`
	}) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		thread, err := e.ListThread(ctx, input.ValidationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: thread}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-comment",
		Method:      http.MethodPatch,
		Path:        "/comments/{comment_id}",
		Summary:     "Edit comment",
	}, func(ctx context.Context, input *struct {
		CommentID string             `path:"comment_id"`
		Body      EditCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EditComment(ctx, engine.CommentEditOptions{
			CommentID:   input.CommentID,
			AuthorID:    actorID,
			Body:        input.Body.Body,
			Attachments: input.Body.Attachments,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/comments/{comment_id}",
		Summary:       "Delete comment",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		CommentID string `path:"comment_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteComment(ctx, input.CommentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Validation rollup",
	}, func(ctx context.Context, input *struct {
		ClientID   string `query:"client_id"`
		ReviewerID string `query:"reviewer_id"`
	}) (*struct {
		Body domain.Dashboard `json:"body"`
	}, error) {
		d, err := e.Dashboard(ctx, engine.DashboardFilters{
			ClientID:   input.ClientID,
			ReviewerID: input.ReviewerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "technician-report",
		Method:      http.MethodGet,
		Path:        "/reports/technicians",
		Summary:     "Per-technician quality report",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
	}) (*struct {
		Body []domain.TechnicianReport `json:"body"`
	}, error) {
		rows, err := e.TechnicianReport(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TechnicianReport `json:"body"`
		}{Body: rows}, nil
	})
}

func registerSweep(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Run a deadline sweep now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		res, err := e.Sweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerNotifications(api huma.API, n *notify.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List own notifications",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := n.ListByRecipient(ctx, actorID, input.Unread, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/read",
		Summary:       "Mark notification read",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		NotificationID int64 `path:"notification_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := n.MarkRead(ctx, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Issue API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, handleError(err)
		}
		key := "vfk_" + hex.EncodeToString(raw)
		k := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(key),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: key}}, nil
	})
}
