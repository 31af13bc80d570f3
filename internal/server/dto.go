package server

import "ventureboard/internal/activity"

// CreateVentureRequest is the POST /ventures payload.
type CreateVentureRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status,omitempty" enum:"active,paused,completed,archived"`
	Priority      string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Icon          string  `json:"icon,omitempty"`
	CapitalBudget float64 `json:"capitalBudget,omitempty"`
}

// UpdateVentureRequest is the PATCH /ventures payload. Absent fields
// are left untouched.
type UpdateVentureRequest struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Status        *string  `json:"status,omitempty" enum:"active,paused,completed,archived"`
	Priority      *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Icon          *string  `json:"icon,omitempty"`
	CapitalBudget *float64 `json:"capitalBudget,omitempty"`
}

// CreateTaskRequest is the POST /tasks payload.
type CreateTaskRequest struct {
	VentureID       string   `json:"ventureId"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status,omitempty" enum:"queue,active,completed,failed,cancelled"`
	Priority        string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	EstimatedCost   float64  `json:"estimatedCost,omitempty"`
	EstimatedTokens int64    `json:"estimatedTokens,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	CreatedBy       string   `json:"createdBy,omitempty"`
}

// UpdateTaskRequest is the PATCH /tasks payload.
type UpdateTaskRequest struct {
	ID              string   `json:"id"`
	VentureID       *string  `json:"ventureId,omitempty"`
	Title           *string  `json:"title,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Status          *string  `json:"status,omitempty" enum:"queue,active,completed,failed,cancelled"`
	Priority        *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssignedTo      *string  `json:"assignedTo,omitempty"`
	Output          *string  `json:"output,omitempty"`
	Error           *string  `json:"error,omitempty"`
	EstimatedCost   *float64 `json:"estimatedCost,omitempty"`
	ActualCost      *float64 `json:"actualCost,omitempty"`
	EstimatedTokens *int64   `json:"estimatedTokens,omitempty"`
	ActualTokens    *int64   `json:"actualTokens,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// ClaimTaskRequest is the POST /tasks/claim payload.
type ClaimTaskRequest struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName,omitempty"`
}

// CompleteTaskRequest is the POST /tasks/complete payload. A non-empty
// error marks the attempt failed and requeues the task.
type CompleteTaskRequest struct {
	TaskID     string   `json:"taskId"`
	AgentID    string   `json:"agentId"`
	Output     *string  `json:"output,omitempty"`
	ActualCost *float64 `json:"actualCost,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// RegisterAgentRequest is the POST /agents payload.
type RegisterAgentRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status,omitempty" enum:"online,offline,busy,error"`
	Model      string `json:"model,omitempty"`
	TokensUsed int64  `json:"tokensUsed,omitempty"`
	MaxTokens  int64  `json:"maxTokens,omitempty"`
}

// UpdateAgentRequest is the PATCH /agents payload.
type UpdateAgentRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Status      *string `json:"status,omitempty" enum:"online,offline,busy,error"`
	CurrentTask *string `json:"currentTask,omitempty"`
	Model       *string `json:"model,omitempty"`
	TokensUsed  *int64  `json:"tokensUsed,omitempty"`
	MaxTokens   *int64  `json:"maxTokens,omitempty"`
}

// LogActivityRequest is the POST /activities payload.
type LogActivityRequest struct {
	Type        string            `json:"type"`
	Level       string            `json:"level,omitempty" enum:"info,success,warning,error"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Metadata    activity.Metadata `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
	VentureID   string            `json:"ventureId,omitempty"`
	TaskID      string            `json:"taskId,omitempty"`
	AgentID     string            `json:"agentId,omitempty"`
}

type deletedResponse struct {
	Success bool `json:"success"`
}
