package main

import (
	"github.com/civicpulse/engine/internal/dispatch"
	"github.com/civicpulse/engine/internal/domain/assignment"
	"github.com/spf13/cobra"
)

func newAssignCmd(a *app) *cobra.Command {
	var staffID, department, notes string

	cmd := &cobra.Command{
		Use:   "assign ISSUE_ID",
		Short: "Route an issue to a staff member",
		Long: "Route an issue to a staff member. With --staff the choice is yours;\n" +
			"without it the engine picks the least-loaded member of --department.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var created assignment.Assignment
			if staffID != "" {
				pool := []dispatch.Candidate{{UserID: staffID}}
				created, err = a.eng.Assignments.Create(cmd.Context(), id, pool, notes)
			} else {
				created, err = a.eng.AssignAuto(cmd.Context(), id, department, notes)
			}
			if err != nil {
				return err
			}

			cmd.Printf("Assignment #%d: issue #%d -> %s\n", created.ID, created.IssueID, created.AssigneeID)
			return nil
		},
	}

	cmd.Flags().StringVar(&staffID, "staff", "", "assign to this staff member")
	cmd.Flags().StringVar(&department, "department", "", "auto-pick from this department")
	cmd.Flags().StringVar(&notes, "notes", "", "instructions for the assignee")

	return cmd
}

func newAssignmentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "Inspect assignments",
	}

	mine := &cobra.Command{
		Use:   "mine",
		Short: "List your assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.eng.Assignments.Mine(cmd.Context())
			if err != nil {
				return err
			}
			for _, asn := range items {
				cmd.Printf("#%-5d issue #%-5d %-12s %s\n", asn.ID, asn.IssueID, asn.Status, asn.Notes)
			}
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an assignment so the issue can be rerouted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.eng.Assignments.Cancel(cmd.Context(), id); err != nil {
				return err
			}
			cmd.Printf("Assignment #%d cancelled\n", id)
			return nil
		},
	}

	workload := &cobra.Command{
		Use:   "workload USER_ID",
		Short: "Show a staff member's load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.eng.Users.Workload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, w)
		},
	}

	cmd.AddCommand(mine, cancel, workload)
	return cmd
}

func newProgressCmd(a *app) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "progress ASSIGNMENT_ID",
		Short: "Advance your assignment's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			updated, err := a.eng.Assignments.UpdateStatus(cmd.Context(), id, assignment.Status(status))
			if err != nil {
				return err
			}
			cmd.Printf("Assignment #%d is now %s\n", updated.ID, updated.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(assignment.StatusInProgress),
		"target status (in_progress or completed)")

	return cmd
}
