package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"magnus/internal/domain"
)

type triggerSeed struct {
	Name       string
	TaskType   domain.TaskType
	Role       domain.Role
	OffsetKind string
	Priority   domain.TaskPriority
	Order      int
}

// transportTriggerName marks the transport-coordination rule, which shares
// the DELIVERY task type but is gated on the transport budget.
const transportTriggerName = "budget-reserva-transport"

var defaultTriggers = []triggerSeed{
	{"budget-reserva-shopping", domain.TaskShopping, domain.RoleLogistics, "shopping_days", domain.PriorityHigh, 10},
	{"budget-reserva-reservation", domain.TaskReservation, domain.RoleLogistics, "preparation_days", domain.PriorityMedium, 20},
	{"budget-reserva-preparation", domain.TaskPreparation, domain.RoleLogistics, "preparation_days", domain.PriorityMedium, 30},
	{"budget-reserva-cooking", domain.TaskCooking, domain.RoleCook, "cooking_hours", domain.PriorityUrgent, 40},
	{"budget-reserva-delivery", domain.TaskDelivery, domain.RoleLogistics, "delivery_days", domain.PriorityHigh, 50},
	{transportTriggerName, domain.TaskDelivery, domain.RoleLogistics, "delivery_days", domain.PriorityMedium, 55},
	{"budget-reserva-setup", domain.TaskSetup, domain.RoleLogistics, "none", domain.PriorityHigh, 60},
	{"budget-reserva-cleanup", domain.TaskCleanup, domain.RoleLogistics, "none", domain.PriorityLow, 70},
}

// SeedDefaultTriggers installs the built-in generation rules on first run.
// An already populated trigger table is left alone.
func (e Engine) SeedDefaultTriggers(ctx context.Context) error {
	n, err := e.Repo.CountTriggers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	for _, seed := range defaultTriggers {
		t := domain.WorkflowTrigger{
			ID:             uuid.NewString(),
			TriggerName:    seed.Name,
			EntityType:     "BUDGET",
			ActionType:     "RESERVA",
			TaskType:       seed.TaskType,
			AssignedRole:   seed.Role,
			OffsetKind:     seed.OffsetKind,
			Priority:       seed.Priority,
			IsActive:       true,
			ExecutionOrder: seed.Order,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertTrigger(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}
