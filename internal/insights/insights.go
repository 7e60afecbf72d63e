package insights

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/civicpulse/engine/internal/session"
)

const (
	cacheKey = "insights/overview"
	cacheTTL = 60 * time.Second
)

type IssueStats struct {
	Total      int            `json:"total_issues"`
	Pending    int            `json:"pending_issues"`
	InProgress int            `json:"in_progress_issues"`
	Resolved   int            `json:"resolved_issues"`
	ByCategory map[string]int `json:"issues_by_category"`
	Upvotes    int            `json:"total_upvotes"`
}

type UserStats struct {
	Total       int `json:"total_users"`
	Citizens    int `json:"citizens"`
	Staff       int `json:"staff"`
	Supervisors int `json:"supervisors"`
	Admins      int `json:"admins"`
}

type SystemStats struct {
	TotalAssignments     int `json:"total_assignments"`
	ActiveAssignments    int `json:"active_assignments"`
	CompletedAssignments int `json:"completed_assignments"`
	TotalUpdates         int `json:"total_updates"`
}

type Overview struct {
	Issues IssueStats  `json:"issue_stats"`
	Users  UserStats   `json:"user_stats"`
	System SystemStats `json:"system_stats"`
}

// Service serves the read-only dashboard numbers. Reads need only a live
// session; they mutate nothing.
type Service struct {
	client   *rest.Client
	sessions *session.Manager
	store    *cache.Cache
	log      *slog.Logger
}

func New(client *rest.Client, sessions *session.Manager, store *cache.Cache, log *slog.Logger) *Service {
	return &Service{client: client, sessions: sessions, store: store, log: log}
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	if _, err := s.sessions.RequireLive(); err != nil {
		return Overview{}, err
	}

	if v, ok := s.store.Get(cacheKey); ok {
		if cached, ok := v.(Overview); ok {
			return cached, nil
		}
	}

	var o Overview
	if err := s.client.Do(ctx, "insights.overview", http.MethodGet, "/api/dashboard", nil, nil, &o); err != nil {
		return Overview{}, err
	}

	s.store.Set(cacheKey, o, cacheTTL)

	return o, nil
}
