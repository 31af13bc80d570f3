package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"ventureboard/internal/activity"
	"ventureboard/internal/domain"
	"ventureboard/internal/engine"
	"ventureboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

// apiError models the flat error envelope the dashboard expects.
type apiError struct {
	status  int
	Message string `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// noTaskError is the one endpoint-specific envelope: the claim route
// answers an empty queue with {"message": ...} rather than an error.
type noTaskError struct {
	status  int
	Message string `json:"message"`
}

func (e *noTaskError) GetStatus() int { return e.status }
func (e *noTaskError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the VentureBoard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the flat envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors surface as 400.
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("VentureBoard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerVentures(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerActivities(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrVentureHasTasks) {
		return newAPIError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not found")
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, msg)
	}
	// Ownership violations intentionally land here as well.
	return newAPIError(http.StatusInternalServerError, msg)
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

func registerVentures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ventures",
		Method:      http.MethodGet,
		Path:        "/ventures",
		Summary:     "List ventures",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Venture `json:"body"`
	}, error) {
		items, err := e.ListVentures(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Venture{}
		}
		return &struct {
			Body []domain.Venture `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-venture",
		Method:        http.MethodPost,
		Path:          "/ventures",
		Summary:       "Create venture",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateVentureRequest `json:"body"`
	}) (*struct {
		Body domain.Venture `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "name is required")
		}
		v, err := e.CreateVenture(ctx, engine.VentureCreateOptions{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			Status:        input.Body.Status,
			Priority:      input.Body.Priority,
			Icon:          input.Body.Icon,
			CapitalBudget: input.Body.CapitalBudget,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Venture `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-venture",
		Method:      http.MethodGet,
		Path:        "/ventures/{id}",
		Summary:     "Get venture",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Venture `json:"body"`
	}, error) {
		v, err := e.Repo.GetVenture(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Venture `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-venture",
		Method:      http.MethodPatch,
		Path:        "/ventures",
		Summary:     "Update venture",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpdateVentureRequest `json:"body"`
	}) (*struct {
		Body domain.Venture `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Venture ID is required")
		}
		v, err := e.UpdateVenture(ctx, input.Body.ID, repo.VentureUpdate{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			Status:        input.Body.Status,
			Priority:      input.Body.Priority,
			Icon:          input.Body.Icon,
			CapitalBudget: input.Body.CapitalBudget,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Venture `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-venture",
		Method:      http.MethodDelete,
		Path:        "/ventures",
		Summary:     "Delete venture",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `query:"id"`
	}) (*struct {
		Body deletedResponse `json:"body"`
	}, error) {
		if input.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Venture ID is required")
		}
		if err := e.DeleteVenture(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body deletedResponse `json:"body"`
		}{Body: deletedResponse{Success: true}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		VentureID  string `query:"ventureId"`
		Status     string `query:"status"`
		AssignedTo string `query:"assignedTo"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			VentureID:  input.VentureID,
			Status:     input.Status,
			AssignedTo: input.AssignedTo,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "title is required")
		}
		if input.Body.VentureID == "" {
			return nil, newAPIError(http.StatusBadRequest, "ventureId is required")
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			VentureID:       input.Body.VentureID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Status:          input.Body.Status,
			Priority:        input.Body.Priority,
			EstimatedCost:   input.Body.EstimatedCost,
			EstimatedTokens: input.Body.EstimatedTokens,
			Tags:            input.Body.Tags,
			CreatedBy:       input.Body.CreatedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/claim",
		Summary:     "Claim the next queued task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body ClaimTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.AgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "agentId is required")
		}
		t, err := e.Claim(ctx, input.Body.AgentID, input.Body.AgentName)
		if errors.Is(err, engine.ErrNoTaskAvailable) {
			return nil, &noTaskError{status: http.StatusNotFound, Message: "No available tasks"}
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/complete",
		Summary:     "Report a task outcome",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.TaskID == "" {
			return nil, newAPIError(http.StatusBadRequest, "taskId is required")
		}
		if input.Body.AgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "agentId is required")
		}
		t, err := e.Complete(ctx, engine.CompleteOptions{
			TaskID:       input.Body.TaskID,
			AgentID:      input.Body.AgentID,
			Output:       input.Body.Output,
			ActualCost:   input.Body.ActualCost,
			ErrorMessage: input.Body.Error,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Task ID is required")
		}
		u := repo.TaskUpdate{
			VentureID:       input.Body.VentureID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Status:          input.Body.Status,
			Priority:        input.Body.Priority,
			AssignedTo:      input.Body.AssignedTo,
			Output:          input.Body.Output,
			Error:           input.Body.Error,
			EstimatedCost:   input.Body.EstimatedCost,
			ActualCost:      input.Body.ActualCost,
			EstimatedTokens: input.Body.EstimatedTokens,
			ActualTokens:    input.Body.ActualTokens,
		}
		if input.Body.Tags != nil {
			u.TagsSet = true
			u.Tags = input.Body.Tags
		}
		t, err := e.UpdateTask(ctx, input.Body.ID, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks",
		Summary:     "Delete task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `query:"id"`
	}) (*struct {
		Body deletedResponse `json:"body"`
	}, error) {
		if input.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Task ID is required")
		}
		if err := e.DeleteTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body deletedResponse `json:"body"`
		}{Body: deletedResponse{Success: true}}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Agent{}
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register agent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body RegisterAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "id is required")
		}
		a, err := e.RegisterAgent(ctx, engine.AgentRegisterOptions{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			Status:     input.Body.Status,
			Model:      input.Body.Model,
			TokensUsed: input.Body.TokensUsed,
			MaxTokens:  input.Body.MaxTokens,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents",
		Summary:     "Update agent",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Agent ID is required")
		}
		a, err := e.UpdateAgent(ctx, input.Body.ID, repo.AgentUpdate{
			Name:        input.Body.Name,
			Status:      input.Body.Status,
			CurrentTask: input.Body.CurrentTask,
			Model:       input.Body.Model,
			TokensUsed:  input.Body.TokensUsed,
			MaxTokens:   input.Body.MaxTokens,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/agents",
		Summary:     "Delete agent",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `query:"id"`
	}) (*struct {
		Body deletedResponse `json:"body"`
	}, error) {
		if input.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Agent ID is required")
		}
		if err := e.DeleteAgent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body deletedResponse `json:"body"`
		}{Body: deletedResponse{Success: true}}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List recent activities",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		items, err := e.Repo.ListActivities(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.AttachActivityRefs(ctx, items); err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Activity{}
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "log-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Log activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body LogActivityRequest `json:"body"`
	}) (*struct {
		Body deletedResponse `json:"body"`
	}, error) {
		if input.Body.Type == "" || input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "type and title are required")
		}
		err := e.LogActivity(ctx, activity.Entry{
			Type:        input.Body.Type,
			Level:       input.Body.Level,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Metadata:    input.Body.Metadata,
			VentureID:   input.Body.VentureID,
			TaskID:      input.Body.TaskID,
			AgentID:     input.Body.AgentID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body deletedResponse `json:"body"`
		}{Body: deletedResponse{Success: true}}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "Dashboard stats",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DashboardStats `json:"body"`
	}, error) {
		s, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DashboardStats `json:"body"`
		}{Body: s}, nil
	})
}
