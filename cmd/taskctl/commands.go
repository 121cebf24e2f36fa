package main

import (
	"strings"

	"github.com/spf13/cobra"

	"task-client/domain"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.core.Queries.ListTasks(c.context(cmd))
			if err != nil {
				return err
			}
			return c.printTasks(list)
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [task-id]",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.core.Queries.GetTask(c.context(cmd), domain.ID(args[0]))
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
}

func addDraftFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "Task title")
	cmd.Flags().String("description", "", "Task description")
	cmd.Flags().String("status", "", "TODO, IN_PROGRESS or COMPLETED")
	cmd.Flags().String("priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().String("due", "", "Due date as yyyy-MM-dd")
}

// applyDraftFlags overlays the flags the user set on d.
func applyDraftFlags(cmd *cobra.Command, d domain.Draft) domain.Draft {
	flags := cmd.Flags()
	if flags.Changed("title") {
		d.Title, _ = flags.GetString("title")
	}
	if flags.Changed("description") {
		d.Description, _ = flags.GetString("description")
	}
	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		d.Status = domain.Status(enumArg(v))
	}
	if flags.Changed("priority") {
		v, _ := flags.GetString("priority")
		d.Priority = domain.Priority(enumArg(v))
	}
	if flags.Changed("due") {
		v, _ := flags.GetString("due")
		d.DueDate = domain.Date(strings.TrimSpace(v))
	}
	return d
}

func (c *cli) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := c.core.Coordinator.Create(c.context(cmd), applyDraftFlags(cmd, domain.Draft{}))
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
	addDraftFlags(cmd)
	return cmd
}

func (c *cli) updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [task-id]",
		Short: "Change a task; unset flags keep their current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.context(cmd)
			id := domain.ID(args[0])
			current, err := c.core.Queries.GetTask(ctx, id)
			if err != nil {
				return err
			}
			draft := applyDraftFlags(cmd, domain.Draft{
				Title:       current.Title,
				Description: current.Description,
				Status:      current.Status,
				Priority:    current.Priority,
				DueDate:     current.DueDate,
			})
			task, err := c.core.Coordinator.Update(ctx, id, draft)
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
	addDraftFlags(cmd)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [task-id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.core.Coordinator.Delete(c.context(cmd), domain.ID(args[0])); err != nil {
				return err
			}
			return c.printf("Deleted task %s\n", args[0])
		},
	}
}

func (c *cli) completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete [task-id]",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.core.Coordinator.MarkCompleted(c.context(cmd), domain.ID(args[0]))
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
}

func (c *cli) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [task-id]",
		Short: "Mark a task in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.core.Coordinator.MarkInProgress(c.context(cmd), domain.ID(args[0]))
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [task-id] [status]",
		Short: "Set the status of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.core.Coordinator.SetStatus(c.context(cmd), domain.ID(args[0]), domain.Status(enumArg(args[1])))
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
}

func (c *cli) priorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority [task-id] [priority]",
		Short: "Set the priority of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.core.Coordinator.SetPriority(c.context(cmd), domain.ID(args[0]), domain.Priority(enumArg(args[1])))
			if err != nil {
				return err
			}
			return c.printTask(task)
		},
	}
}

// enumArg accepts "in-progress" and "in_progress" for IN_PROGRESS.
func enumArg(v string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_"))
}
