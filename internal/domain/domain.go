package domain

// BudgetStatus is the lifecycle status of a budget.
type BudgetStatus string

const (
	BudgetDraft     BudgetStatus = "DRAFT"
	BudgetPending   BudgetStatus = "PENDING"
	BudgetApproved  BudgetStatus = "APPROVED"
	BudgetReserva   BudgetStatus = "RESERVA"
	BudgetRejected  BudgetStatus = "REJECTED"
	BudgetCompleted BudgetStatus = "COMPLETED"
	BudgetCanceled  BudgetStatus = "CANCELED"
)

// TaskStatus is the runtime status of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskCanceled   TaskStatus = "CANCELED"
)

type TaskType string

const (
	TaskShopping    TaskType = "SHOPPING"
	TaskReservation TaskType = "RESERVATION"
	TaskDelivery    TaskType = "DELIVERY"
	TaskCooking     TaskType = "COOKING"
	TaskPreparation TaskType = "PREPARATION"
	TaskSetup       TaskType = "SETUP"
	TaskCleanup     TaskType = "CLEANUP"
	TaskNeed        TaskType = "NEED"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

// DependencyType classifies a task-dependency edge. REQUIRES and BLOCKS
// participate in cycle validation and blocking; SUGGESTS is advisory only.
type DependencyType string

const (
	DepBlocks   DependencyType = "BLOCKS"
	DepRequires DependencyType = "REQUIRES"
	DepSuggests DependencyType = "SUGGESTS"
)

type ConflictStatus string

const (
	ConflictNone      ConflictStatus = "NONE"
	ConflictDetected  ConflictStatus = "DETECTED"
	ConflictResolved  ConflictStatus = "RESOLVED"
	ConflictEscalated ConflictStatus = "ESCALATED"
)

// ResolutionStrategy picks how a detected conflict is settled.
type ResolutionStrategy string

const (
	ResolveLastWriteWins ResolutionStrategy = "LAST_WRITE_WINS"
	ResolveManualMerge   ResolutionStrategy = "MANUAL_MERGE"
	ResolveReject        ResolutionStrategy = "REJECT"
)

type NotificationType string

const (
	NotifyInfo    NotificationType = "INFO"
	NotifySuccess NotificationType = "SUCCESS"
	NotifyWarning NotificationType = "WARNING"
	NotifyError   NotificationType = "ERROR"
)

// Role is the closed set of workforce roles that tasks and notifications
// target.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleSales     Role = "SALES"
	RoleLogistics Role = "LOGISTICS"
	RoleCook      Role = "COOK"
)

type AuditAction string

const (
	AuditCreate       AuditAction = "CREATE"
	AuditUpdate       AuditAction = "UPDATE"
	AuditDelete       AuditAction = "DELETE"
	AuditStatusChange AuditAction = "STATUS_CHANGE"
	AuditApprove      AuditAction = "APPROVE"
	AuditReject       AuditAction = "REJECT"
)

type Budget struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	ClientName            string         `json:"client_name"`
	EventDate             string         `json:"event_date" format:"date-time"`
	EventLocation         string         `json:"event_location,omitempty"`
	GuestCount            int            `json:"guest_count"`
	Description           string         `json:"description,omitempty"`
	TotalAmount           float64        `json:"total_amount"`
	MealsAmount           float64        `json:"meals_amount"`
	ActivitiesAmount      float64        `json:"activities_amount"`
	TransportAmount       float64        `json:"transport_amount"`
	AccommodationAmount   float64        `json:"accommodation_amount"`
	Status                BudgetStatus   `json:"status" enum:"DRAFT,PENDING,APPROVED,RESERVA,REJECTED,COMPLETED,CANCELED"`
	Notes                 string         `json:"notes,omitempty"`
	WorkflowTriggered     bool           `json:"workflow_triggered"`
	LastWorkflowExecution *string        `json:"last_workflow_execution,omitempty" format:"date-time"`
	ApprovedAt            *string        `json:"approved_at,omitempty" format:"date-time"`
	ReservedAt            *string        `json:"reserved_at,omitempty" format:"date-time"`
	Version               int            `json:"version"`
	ConflictStatus        ConflictStatus `json:"conflict_status"`
	CreatedBy             string         `json:"created_by"`
	LastModifiedBy        string         `json:"last_modified_by,omitempty"`
	CreatedAt             string         `json:"created_at" format:"date-time"`
	UpdatedAt             string         `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID               string         `json:"id"`
	BudgetID         string         `json:"budget_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Type             TaskType       `json:"type" enum:"SHOPPING,RESERVATION,DELIVERY,COOKING,PREPARATION,SETUP,CLEANUP,NEED"`
	Priority         TaskPriority   `json:"priority" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Status           TaskStatus     `json:"status" enum:"TODO,IN_PROGRESS,DONE,BLOCKED,CANCELED"`
	AssignedRole     Role           `json:"assigned_role" enum:"ADMIN,SALES,LOGISTICS,COOK"`
	DueDate          string         `json:"due_date" format:"date-time"`
	EstimatedMinutes *int           `json:"estimated_minutes,omitempty"`
	Location         string         `json:"location,omitempty"`
	AutoGenerated    bool           `json:"auto_generated"`
	ParentTaskID     *string        `json:"parent_task_id,omitempty"`
	Version          int            `json:"version"`
	ConflictStatus   ConflictStatus `json:"conflict_status"`
	CompletedAt      *string        `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// TaskDependency is a directed edge from PrerequisiteID to DependentID.
type TaskDependency struct {
	ID             string         `json:"id"`
	BudgetID       string         `json:"budget_id"`
	PrerequisiteID string         `json:"prerequisite_id"`
	DependentID    string         `json:"dependent_id"`
	Type           DependencyType `json:"type" enum:"BLOCKS,REQUIRES,SUGGESTS"`
	Notes          string         `json:"notes,omitempty"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
}

// Blocking reports whether the edge participates in cycle validation and
// status blocking. SUGGESTS edges never block.
func (d TaskDependency) Blocking() bool {
	return d.IsActive && (d.Type == DepRequires || d.Type == DepBlocks)
}

type ConflictResolution struct {
	ID              string             `json:"id"`
	EntityType      string             `json:"entity_type"`
	EntityID        string             `json:"entity_id"`
	FieldName       string             `json:"field_name,omitempty"`
	LocalValue      string             `json:"local_value,omitempty"`
	RemoteValue     string             `json:"remote_value,omitempty"`
	ResolvedValue   string             `json:"resolved_value,omitempty"`
	Strategy        ResolutionStrategy `json:"strategy,omitempty"`
	Status          ConflictStatus     `json:"status" enum:"NONE,DETECTED,RESOLVED,ESCALATED"`
	ConflictingUser string             `json:"conflicting_user"`
	ResolvedBy      *string            `json:"resolved_by,omitempty"`
	DetectedAt      string             `json:"detected_at" format:"date-time"`
	ResolvedAt      *string            `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt       string             `json:"created_at" format:"date-time"`
}

// WorkflowTrigger is a configured task-generation rule. Active rules fire in
// ExecutionOrder when a budget enters RESERVA.
type WorkflowTrigger struct {
	ID             string       `json:"id"`
	TriggerName    string       `json:"trigger_name"`
	EntityType     string       `json:"entity_type"`
	ActionType     string       `json:"action_type"`
	TaskType       TaskType     `json:"task_type"`
	AssignedRole   Role         `json:"assigned_role"`
	OffsetKind     string       `json:"offset_kind" enum:"shopping_days,preparation_days,delivery_days,cooking_hours,none"`
	Priority       TaskPriority `json:"priority"`
	IsActive       bool         `json:"is_active"`
	ExecutionOrder int          `json:"execution_order"`
	ExecutionCount int          `json:"execution_count"`
	LastExecuted   *string      `json:"last_executed,omitempty" format:"date-time"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
	UpdatedAt      string       `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	Type              NotificationType `json:"type" enum:"INFO,SUCCESS,WARNING,ERROR"`
	TargetRole        *Role            `json:"target_role,omitempty" enum:"ADMIN,SALES,LOGISTICS,COOK"`
	IsGlobal          bool             `json:"is_global"`
	RelatedEntityType string           `json:"related_entity_type,omitempty"`
	RelatedEntityID   string           `json:"related_entity_id,omitempty"`
	IsRead            bool             `json:"is_read"`
	ReadAt            *string          `json:"read_at,omitempty" format:"date-time"`
	Priority          TaskPriority     `json:"priority"`
	CreatedAt         string           `json:"created_at" format:"date-time"`
}

type AuditLog struct {
	ID         int64       `json:"id"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Action     AuditAction `json:"action"`
	FieldName  string      `json:"field_name,omitempty"`
	OldValue   string      `json:"old_value,omitempty"`
	NewValue   string      `json:"new_value,omitempty"`
	ActorID    string      `json:"actor_id"`
	TS         string      `json:"ts" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
