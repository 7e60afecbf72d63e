package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/civicpulse/engine/internal/config"
	"github.com/civicpulse/engine/internal/engine"
	"github.com/civicpulse/engine/internal/observability"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// app carries everything a subcommand needs once the root has run.
type app struct {
	cfg         config.Config
	eng         *engine.Engine
	registry    *prometheus.Registry
	showMetrics bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "civicpulse",
		Short:         "Report and route civic issues from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; absence is not an error
			_ = godotenv.Load()

			a.cfg = config.Load()
			log := observability.NewLogger(a.cfg.Env)

			a.registry = prometheus.NewRegistry()
			prom := observability.NewProm(a.registry)

			a.eng = engine.New(a.cfg, log, rest.WithMetrics(prom))
			a.eng.Cache.SetMetrics(prom)

			// login/logout manage the token themselves
			switch cmd.Name() {
			case "login", "logout", "register":
				return nil
			}

			if tok, err := loadToken(); err == nil && tok != "" {
				if _, err := a.eng.Sessions.Resume(cmd.Context(), tok); err != nil {
					_ = clearToken()
					return err
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.showMetrics {
				a.dumpMetrics(cmd)
			}
		},
	}

	root.PersistentFlags().BoolVar(&a.showMetrics, "show-metrics", false,
		"print client request metrics after the command")

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newReportCmd(a),
		newIssuesCmd(a),
		newVoteCmd(a),
		newUnvoteCmd(a),
		newAssignCmd(a),
		newAssignmentsCmd(a),
		newProgressCmd(a),
		newUpdateCmd(a),
		newResolveCmd(a),
		newUpdatesCmd(a),
		newUsersCmd(a),
		newDashboardCmd(a),
	)

	return root
}

func (a *app) dumpMetrics(cmd *cobra.Command) {
	families, err := a.registry.Gather()
	if err != nil {
		return
	}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			line := fam.GetName()
			for _, l := range m.GetLabel() {
				line += " " + l.GetName() + "=" + l.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "# %s %v\n", line, c.GetValue())
			}
		}
	}
}

// ---- token file

func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "civicpulse", "token"), nil
}

func saveToken(tok string) error {
	p, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(tok), 0o600)
}

func loadToken() (string, error) {
	p, err := tokenPath()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func clearToken() error {
	p, err := tokenPath()
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// printJSON renders any API object for the terminal.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}