package main

import (
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/spf13/cobra"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "User administration",
	}

	var role, department string
	list := &cobra.Command{
		Use:   "list",
		Short: "List all accounts (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.eng.Users.List(cmd.Context(), user.Role(role), department)
			if err != nil {
				return err
			}
			for _, u := range items {
				cmd.Printf("%-36s %-11s %-20s %s\n", u.ID, u.Role, u.Department, u.Email)
			}
			return nil
		},
	}
	list.Flags().StringVar(&role, "role", "", "filter by role")
	list.Flags().StringVar(&department, "department", "", "filter by department")

	var staffDept string
	staff := &cobra.Command{
		Use:   "staff",
		Short: "List staff members (supervisor/admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.eng.Users.ListStaff(cmd.Context(), staffDept)
			if err != nil {
				return err
			}
			for _, u := range items {
				cmd.Printf("%-36s %-20s %s\n", u.ID, u.Department, u.FullName)
			}
			return nil
		},
	}
	staff.Flags().StringVar(&staffDept, "department", "", "filter by department")

	var newRole, newDept string
	changeRole := &cobra.Command{
		Use:   "change-role USER_ID",
		Short: "Change an account's role (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.eng.Users.ChangeRole(cmd.Context(), args[0], user.Role(newRole), newDept)
			if err != nil {
				return err
			}
			cmd.Printf("%s is now %s\n", u.ID, u.Role)
			return nil
		},
	}
	changeRole.Flags().StringVar(&newRole, "role", "", "new role")
	changeRole.Flags().StringVar(&newDept, "department", "", "new department")
	_ = changeRole.MarkFlagRequired("role")

	cmd.AddCommand(list, staff, changeRole)
	return cmd
}

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show system-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.eng.Insights.Overview(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, o)
		},
	}
}
