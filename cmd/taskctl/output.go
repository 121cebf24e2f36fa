package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"

	"task-client/domain"
)

func (c *cli) views(list []domain.Task) ([]domain.View, error) {
	today := c.now()
	views := make([]domain.View, 0, len(list))
	for _, t := range list {
		v, err := domain.NewView(t, today, c.cfg.DueSoonDays)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (c *cli) printTasks(list []domain.Task) error {
	views, err := c.views(list)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return c.printJSON(views)
	}
	if len(views) == 0 {
		return c.printf("No tasks.\n")
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\t")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Title, v.StatusLabel, v.PriorityLabel, v.DueDate, badges(v))
	}
	return tw.Flush()
}

func (c *cli) printTask(t domain.Task) error {
	views, err := c.views([]domain.Task{t})
	if err != nil {
		return err
	}
	v := views[0]
	if c.jsonOutput {
		return c.printJSON(v)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", v.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", v.Title)
	if v.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", v.Description)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", v.StatusLabel)
	fmt.Fprintf(tw, "Priority:\t%s\n", v.PriorityLabel)
	if !v.DueDate.IsZero() {
		fmt.Fprintf(tw, "Due:\t%s %s\n", v.DueDate, badges(v))
	}
	return tw.Flush()
}

func badges(v domain.View) string {
	var b []string
	if v.Overdue {
		b = append(b, "overdue")
	}
	if v.DueSoon {
		b = append(b, "due soon")
	}
	if len(b) == 0 {
		return ""
	}
	return "(" + strings.Join(b, ", ") + ")"
}

func (c *cli) printJSON(v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", out)
	return err
}

func (c *cli) printf(format string, args ...any) error {
	if c.jsonOutput {
		return nil
	}
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}
