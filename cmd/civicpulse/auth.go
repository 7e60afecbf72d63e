package main

import (
	"github.com/civicpulse/engine/internal/session"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.eng.Sessions.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := saveToken(s.Token); err != nil {
				return err
			}
			cmd.Printf("Signed in as %s (%s), session expires %s\n",
				s.UserID, s.Role, s.ExpiresAt.Format("15:04 MST"))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var req session.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.eng.Sessions.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := saveToken(s.Token); err != nil {
				return err
			}
			cmd.Printf("Registered and signed in as %s (%s)\n", s.UserID, s.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	cmd.Flags().StringVar(&req.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&req.Role, "role", "", "role (citizen, staff, supervisor, admin)")
	cmd.Flags().StringVar(&req.Department, "department", "", "department for staff roles")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and discard all local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tok, err := loadToken(); err == nil && tok != "" {
				if _, err := a.eng.Sessions.Resume(cmd.Context(), tok); err == nil {
					a.eng.Sessions.Logout(cmd.Context())
				}
			}
			if err := clearToken(); err != nil {
				return err
			}
			cmd.Println("Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.eng.Sessions.Me(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		},
	}
}
