package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"magnus/internal/app"
	"magnus/internal/config"
	"magnus/internal/db"
	"magnus/internal/domain"
	"magnus/internal/engine"
	"magnus/internal/migrate"
	"magnus/internal/notify"
	"magnus/internal/repo"
	"magnus/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mg",
	Short: "Magnus CLI",
	Long: `Magnus plans catered events from budget to cleanup.
- Workspace: a .magnus directory holding the database; config lives in the DB and can be imported from magnus.yml.
- Budgets: client offers that move DRAFT -> PENDING -> APPROVED -> RESERVA -> COMPLETED (REJECTED/CANCELED are exits).
- Workflow: reserving a budget generates the preparation tasks (shopping, cooking, delivery, setup, cleanup) once.
- Tasks: role-assigned work items with dependencies; blocked tasks free up when prerequisites finish.
- Conflicts: concurrent edits are caught by version checks and resolved explicitly.
- Audit log: diary of changes, view with 'mg audit tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAGNUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func budgetCmd() *cobra.Command {
	b := &cobra.Command{Use: "budget", Short: "Manage budgets"}
	b.AddCommand(budgetCreateCmd())
	b.AddCommand(budgetListCmd())
	b.AddCommand(budgetShowCmd())
	b.AddCommand(budgetUpdateCmd())
	b.AddCommand(budgetStatusCmd())
	b.AddCommand(budgetApproveCmd())
	return b
}

func budgetCreateCmd() *cobra.Command {
	var opts engine.BudgetCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.CreateBudget(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "budget name")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&opts.EventDate, "event-date", "", "event date (RFC3339)")
	cmd.Flags().StringVar(&opts.EventLocation, "location", "", "event location")
	cmd.Flags().IntVar(&opts.GuestCount, "guests", 0, "guest count")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Float64Var(&opts.TotalAmount, "total", 0, "total amount")
	cmd.Flags().Float64Var(&opts.MealsAmount, "meals", 0, "meals amount")
	cmd.Flags().Float64Var(&opts.ActivitiesAmount, "activities", 0, "activities amount")
	cmd.Flags().Float64Var(&opts.TransportAmount, "transport", 0, "transport amount")
	cmd.Flags().Float64Var(&opts.AccommodationAmount, "accommodation", 0, "accommodation amount")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("event-date")
	return cmd
}

func budgetListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBudgets(ctx, domain.BudgetStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Client", "Event Date", "Status", "Total", "Version"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Name, b.ClientName, b.EventDate, b.Status, b.TotalAmount, b.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func budgetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <budget-id>",
		Short: "Show a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				b, err := r.GetBudget(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func budgetUpdateCmd() *cobra.Command {
	var version int
	var name, client, eventDate, location, description, notes string
	var guests int
	var total, meals, activities, transport, accommodation float64
	cmd := &cobra.Command{
		Use:   "update <budget-id>",
		Short: "Update budget fields (version checked)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.BudgetPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("client") {
				patch.ClientName = &client
			}
			if cmd.Flags().Changed("event-date") {
				patch.EventDate = &eventDate
			}
			if cmd.Flags().Changed("location") {
				patch.EventLocation = &location
			}
			if cmd.Flags().Changed("guests") {
				patch.GuestCount = &guests
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("total") {
				patch.TotalAmount = &total
			}
			if cmd.Flags().Changed("meals") {
				patch.MealsAmount = &meals
			}
			if cmd.Flags().Changed("activities") {
				patch.ActivitiesAmount = &activities
			}
			if cmd.Flags().Changed("transport") {
				patch.TransportAmount = &transport
			}
			if cmd.Flags().Changed("accommodation") {
				patch.AccommodationAmount = &accommodation
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.UpdateBudget(ctx, args[0], version, patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "expected version")
	cmd.Flags().StringVar(&name, "name", "", "budget name")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&eventDate, "event-date", "", "event date (RFC3339)")
	cmd.Flags().StringVar(&location, "location", "", "event location")
	cmd.Flags().IntVar(&guests, "guests", 0, "guest count")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().Float64Var(&total, "total", 0, "total amount")
	cmd.Flags().Float64Var(&meals, "meals", 0, "meals amount")
	cmd.Flags().Float64Var(&activities, "activities", 0, "activities amount")
	cmd.Flags().Float64Var(&transport, "transport", 0, "transport amount")
	cmd.Flags().Float64Var(&accommodation, "accommodation", 0, "accommodation amount")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func budgetStatusCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "status <budget-id> <status>",
		Short: "Move a budget along its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var notesPtr *string
			if cmd.Flags().Changed("notes") {
				notesPtr = &notes
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.TransitionBudget(ctx, args[0], domain.BudgetStatus(strings.ToUpper(args[1])), notesPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "status notes")
	return cmd
}

func budgetApproveCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "approve <budget-id>",
		Short: "Approve a pending budget and reserve it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var notesPtr *string
			if cmd.Flags().Changed("notes") {
				notesPtr = &notes
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.ApproveBudget(ctx, args[0], notesPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "approval notes")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskDependCmd())
	t.AddCommand(taskUndependCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var budgetID, title, description, taskType, priority, role, dueDate, location, parent string
	var estimated int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskCreateOptions{
				BudgetID:     budgetID,
				Title:        title,
				Description:  description,
				Type:         domain.TaskType(strings.ToUpper(taskType)),
				Priority:     domain.TaskPriority(strings.ToUpper(priority)),
				AssignedRole: domain.Role(strings.ToUpper(role)),
				DueDate:      dueDate,
				Location:     location,
				ParentTaskID: parent,
				ActorID:      viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("estimated-minutes") {
				opts.EstimatedMinutes = &estimated
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&budgetID, "budget", "", "budget id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&taskType, "type", "NEED", "task type")
	cmd.Flags().StringVar(&priority, "priority", "MEDIUM", "priority")
	cmd.Flags().StringVar(&role, "role", "LOGISTICS", "assigned role")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().IntVar(&estimated, "estimated-minutes", 0, "estimated minutes")
	_ = cmd.MarkFlagRequired("budget")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func taskListCmd() *cobra.Command {
	var budgetID, status, role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of a budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, budgetID, domain.TaskStatus(strings.ToUpper(status)), domain.Role(strings.ToUpper(role)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Role", "Due", "Priority"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Type, t.Status, t.AssignedRole, t.DueDate, t.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&budgetID, "budget", "", "budget id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&role, "role", "", "filter by assigned role")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task along its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, freed, err := e.SetTaskStatus(ctx, args[0], domain.TaskStatus(strings.ToUpper(args[1])), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				out := map[string]any{"task": t}
				if len(freed) > 0 {
					out["unblocked"] = freed
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func taskDependCmd() *cobra.Command {
	var depType, notes string
	cmd := &cobra.Command{
		Use:   "depend <task-id> <prerequisite-id>",
		Short: "Make a task depend on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AddDependency(ctx, engine.DependencyCreateOptions{
					DependentID:    args[0],
					PrerequisiteID: args[1],
					Type:           domain.DependencyType(strings.ToUpper(depType)),
					Notes:          notes,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&depType, "type", "REQUIRES", "dependency type (BLOCKS, REQUIRES, SUGGESTS)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func taskUndependCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undepend <dependency-id>",
		Short: "Deactivate a dependency edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveDependency(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	w := &cobra.Command{Use: "workflow", Short: "Budget workflow operations"}
	w.AddCommand(workflowTriggerCmd())
	w.AddCommand(workflowStatusCmd())
	return w
}

func workflowTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <budget-id>",
		Short: "Generate preparation tasks for a reserved budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GenerateTasks(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func workflowStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <budget-id>",
		Short: "Show workflow state of a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws, err := e.GetWorkflowStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ws)
			})
		},
	}
	return cmd
}

func conflictCmd() *cobra.Command {
	c := &cobra.Command{Use: "conflict", Short: "Manage edit conflicts"}
	c.AddCommand(conflictListCmd())
	c.AddCommand(conflictResolveCmd())
	c.AddCommand(conflictEscalateCmd())
	return c
}

func conflictListCmd() *cobra.Command {
	var entityType, entityID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflict records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListConflicts(ctx, strings.ToUpper(entityType), entityID, domain.ConflictStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "BUDGET or TASK")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&status, "status", "", "DETECTED, RESOLVED or ESCALATED")
	return cmd
}

func conflictResolveCmd() *cobra.Command {
	var strategy, resolvedValue string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a detected conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ResolveConflict(ctx, engine.ResolveConflictOptions{
					ConflictID:    args[0],
					Strategy:      domain.ResolutionStrategy(strings.ToUpper(strategy)),
					ResolvedValue: resolvedValue,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "LAST_WRITE_WINS, MANUAL_MERGE or REJECT")
	cmd.Flags().StringVar(&resolvedValue, "value", "", "merged JSON value set (for MANUAL_MERGE)")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func conflictEscalateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate <conflict-id>",
		Short: "Escalate a detected conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.EscalateConflict(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Manage notifications"}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationReadCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var role string
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, domain.Role(strings.ToUpper(role)), unread)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role (plus globals)")
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.MarkNotificationRead(ctx, args[0], now); err != nil {
					return err
				}
				n, err := r.GetNotification(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var n int
	var entityType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAuditLogs(ctx, strings.ToUpper(entityType), entityID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func triggerCmd() *cobra.Command {
	t := &cobra.Command{Use: "trigger", Short: "Manage workflow triggers"}
	t.AddCommand(triggerListCmd())
	t.AddCommand(triggerSetCmd())
	return t
}

func triggerListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTriggers(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Task Type", "Role", "Offset", "Order", "Active", "Executions"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.TriggerName, t.TaskType, t.AssignedRole, t.OffsetKind, t.ExecutionOrder, t.IsActive, t.ExecutionCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "active triggers only")
	return cmd
}

func triggerSetCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set <trigger-id>",
		Short: "Enable or disable a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				return r.SetTriggerActive(ctx, args[0], active, now)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "active state")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage configuration"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configInitCmd())
	c.AddCommand(configImportCmd())
	return c
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default magnus.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ImportConfig(ctx, filePath, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// the raw key is shown once and never stored
				return printJSONOrTable(map[string]string{"id": key.ID, "api_key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			dispatcher := notify.NewDispatcher(e.Repo)
			dispatcher.Start()
			defer dispatcher.Close()
			e.Notify = dispatcher
			if err := e.SeedDefaultTriggers(cmd.Context()); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("MAGNUS_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MAGNUS_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			defer handler.Close()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Magnus API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if err := e.SeedDefaultTriggers(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
