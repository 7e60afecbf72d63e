package engine

import (
	"context"
	"log/slog"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/config"
	"github.com/civicpulse/engine/internal/directory"
	"github.com/civicpulse/engine/internal/dispatch"
	"github.com/civicpulse/engine/internal/domain/assignment"
	"github.com/civicpulse/engine/internal/insights"
	"github.com/civicpulse/engine/internal/registry"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/civicpulse/engine/internal/session"
	"github.com/civicpulse/engine/internal/updatelog"
)

// Engine bundles the whole client engine behind one constructor so the CLI
// and tests wire it the same way.
type Engine struct {
	Cache       *cache.Cache
	Client      *rest.Client
	Sessions    *session.Manager
	Issues      *registry.Registry
	Assignments *dispatch.Router
	Updates     *updatelog.Log
	Users       *directory.Directory
	Insights    *insights.Service
}

func New(cfg config.Config, log *slog.Logger, opts ...rest.Option) *Engine {
	store := cache.New(cfg.TokenTTL)
	client := rest.NewClient(cfg.BaseURL, cfg.RequestTimeout, log, opts...)
	sessions := session.NewManager(client, store, cfg.TokenTTL, log)
	issues := registry.New(client, sessions, store, log)
	assignments := dispatch.New(client, sessions, issues, store, log)
	updates := updatelog.New(client, sessions, issues, assignments, store, log)
	users := directory.New(client, sessions, store, log)
	stats := insights.New(client, sessions, store, log)

	return &Engine{
		Cache:       store,
		Client:      client,
		Sessions:    sessions,
		Issues:      issues,
		Assignments: assignments,
		Updates:     updates,
		Users:       users,
		Insights:    stats,
	}
}

// AssignAuto builds the candidate pool from the staff directory and lets
// the router's workload balancing pick the assignee.
func (e *Engine) AssignAuto(ctx context.Context, issueID int64, department, notes string) (assignment.Assignment, error) {
	staff, err := e.Users.ListStaff(ctx, department)
	if err != nil {
		return assignment.Assignment{}, err
	}
	if len(staff) == 0 {
		return assignment.Assignment{}, apierr.Validation("No staff available in that department.", nil)
	}

	pool := make([]dispatch.Candidate, 0, len(staff))
	for _, member := range staff {
		w, err := e.Users.Workload(ctx, member.ID)
		if err != nil {
			return assignment.Assignment{}, err
		}
		pool = append(pool, dispatch.Candidate{
			UserID:         member.ID,
			Active:         w.Active,
			LastAssignedAt: w.LastAssignedAt,
		})
	}

	return e.Assignments.Create(ctx, issueID, pool, notes)
}
