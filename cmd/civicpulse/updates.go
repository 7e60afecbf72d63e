package main

import (
	"errors"
	"strings"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/spf13/cobra"
)

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update ISSUE_ID TEXT...",
		Short: "Post a progress note on an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			appended, err := a.eng.Updates.Append(cmd.Context(), id, strings.Join(args[1:], " "), false)
			if err != nil {
				return err
			}
			cmd.Printf("Update #%d posted on issue #%d\n", appended.ID, appended.IssueID)
			return nil
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ISSUE_ID TEXT...",
		Short: "Post a terminal note: resolves the issue and completes its assignment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			_, err = a.eng.Updates.Append(cmd.Context(), id, strings.Join(args[1:], " "), true)
			if errors.Is(err, apierr.ErrPartialFailure) {
				// the issue is resolved; only the assignment bookkeeping is left
				cmd.PrintErrln("Warning:", err.Error())
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Printf("Issue #%d resolved\n", id)
			return nil
		},
	}
}

func newUpdatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "updates ISSUE_ID",
		Short: "Show an issue's progress trail, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			for u, err := range a.eng.Updates.ListByIssue(id).Iter(cmd.Context()) {
				if err != nil {
					return err
				}
				marker := " "
				if u.Terminal {
					marker = "*"
				}
				cmd.Printf("%s %s  %s\n", marker, u.CreatedAt.Format("2006-01-02 15:04"), u.Text)
			}
			return nil
		},
	}
}
