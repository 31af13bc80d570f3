package domain

type Venture struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status" enum:"active,paused,completed,archived"`
	Priority      string  `json:"priority" enum:"low,medium,high,urgent"`
	Icon          string  `json:"icon,omitempty"`
	CapitalBudget float64 `json:"capitalBudget"`
	CapitalSpent  float64 `json:"capitalSpent"`
	CreatedAt     string  `json:"createdAt" format:"date-time"`
	UpdatedAt     string  `json:"updatedAt" format:"date-time"`

	// Populated on list reads; not columns.
	Tasks     []Task `json:"tasks,omitempty"`
	TaskCount int    `json:"taskCount,omitempty"`
}

type Task struct {
	ID              string   `json:"id"`
	VentureID       string   `json:"ventureId"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status" enum:"queue,active,completed,failed,cancelled"`
	Priority        string   `json:"priority" enum:"low,medium,high,urgent"`
	AssignedTo      *string  `json:"assignedTo,omitempty"`
	EstimatedCost   float64  `json:"estimatedCost"`
	ActualCost      float64  `json:"actualCost"`
	EstimatedTokens int64    `json:"estimatedTokens"`
	ActualTokens    int64    `json:"actualTokens"`
	Tags            []string `json:"tags,omitempty"`
	Output          *string  `json:"output,omitempty"`
	Error           *string  `json:"error,omitempty"`
	CreatedBy       string   `json:"createdBy,omitempty"`
	CreatedAt       string   `json:"createdAt" format:"date-time"`
	UpdatedAt       string   `json:"updatedAt" format:"date-time"`
	StartedAt       *string  `json:"startedAt,omitempty" format:"date-time"`
	CompletedAt     *string  `json:"completedAt,omitempty" format:"date-time"`

	// Populated on reads; not a column.
	Venture *Venture `json:"venture,omitempty"`
}

type Agent struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status" enum:"online,offline,busy,error"`
	Model        string  `json:"model,omitempty"`
	CurrentTask  *string `json:"currentTask,omitempty"`
	TokensUsed   int64   `json:"tokensUsed"`
	MaxTokens    int64   `json:"maxTokens"`
	LastActiveAt string  `json:"lastActiveAt" format:"date-time"`
	CreatedAt    string  `json:"createdAt" format:"date-time"`
}

// Activity is an append-only audit entry. Rows are never updated or
// deleted by normal flow.
type Activity struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Level       string         `json:"level" enum:"info,success,warning,error"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
	VentureID   *string        `json:"ventureId,omitempty"`
	TaskID      *string        `json:"taskId,omitempty"`
	AgentID     *string        `json:"agentId,omitempty"`
	CreatedAt   string         `json:"createdAt" format:"date-time"`

	Venture *Venture `json:"venture,omitempty"`
	Task    *Task    `json:"task,omitempty"`
	Agent   *Agent   `json:"agent,omitempty"`
}
