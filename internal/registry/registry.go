package registry

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/authz"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/domain/issue"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/civicpulse/engine/internal/session"
	"github.com/go-playground/validator/v10"
)

const cacheNS = "issues/"

// readCacheTTL bounds how stale list/get reads behind dashboards may go.
const readCacheTTL = 30 * time.Second

// Registry owns issue lifecycle on the client side: creation, votes, and
// the forward-only status machine. It checks its own gates for the actions
// it initiates; SetStatus trusts the caller's prior gate check.
type Registry struct {
	client   *rest.Client
	sessions *session.Manager
	store    *cache.Cache
	log      *slog.Logger
	validate *validator.Validate
}

func New(client *rest.Client, sessions *session.Manager, store *cache.Cache, log *slog.Logger) *Registry {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")

	return &Registry{
		client:   client,
		sessions: sessions,
		store:    store,
		log:      log,
		validate: v,
	}
}

func (r *Registry) Create(ctx context.Context, req issue.CreateRequest) (issue.Issue, error) {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return issue.Issue{}, err
	}
	if err := authz.Require(sess, authz.ActionCreateIssue); err != nil {
		return issue.Issue{}, err
	}

	// reject locally before anything goes on the wire
	if err := r.validate.Struct(req); err != nil {
		return issue.Issue{}, apierr.Validation("Title, description and category are required.", err.Error())
	}

	var created issue.Issue
	if err := r.client.Do(ctx, "issue.create", http.MethodPost, "/api/issues", nil, req, &created); err != nil {
		return issue.Issue{}, err
	}

	r.store.ClearPrefix(cacheNS)
	r.log.Info("issue created", "id", created.ID, "category", created.Category)

	return created, nil
}

// Vote records the caller's upvote. Voting twice is a conflict, surfaced as
// apierr.ErrDuplicateVote; the voter set can never double-count because the
// upvote total is always derived from it.
func (r *Registry) Vote(ctx context.Context, issueID int64) error {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return err
	}
	if err := authz.Require(sess, authz.ActionVoteIssue); err != nil {
		return err
	}

	path := rest.Path("/api/issues/%d/vote", issueID)
	if err := r.client.Do(ctx, "issue.vote", http.MethodPost, path, nil, nil, nil); err != nil {
		return err
	}

	r.store.ClearPrefix(cacheNS)
	return nil
}

// Unvote removes the caller's vote if present.
func (r *Registry) Unvote(ctx context.Context, issueID int64) error {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return err
	}
	if err := authz.Require(sess, authz.ActionVoteIssue); err != nil {
		return err
	}

	path := rest.Path("/api/issues/%d/vote", issueID)
	if err := r.client.Do(ctx, "issue.unvote", http.MethodDelete, path, nil, nil, nil); err != nil {
		return err
	}

	r.store.ClearPrefix(cacheNS)
	return nil
}

type statusPatch struct {
	Status issue.Status `json:"status"`
}

// SetStatus advances the issue lifecycle. Authorization for the triggering
// action (terminal update, assignment creation) happened at the caller;
// this method only guards the state machine itself.
func (r *Registry) SetStatus(ctx context.Context, issueID int64, next issue.Status, actingUserID string) (issue.Issue, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return issue.Issue{}, err
	}

	current, err := r.Get(ctx, issueID)
	if err != nil {
		return issue.Issue{}, err
	}

	if !current.Status.CanTransitionTo(next) {
		return issue.Issue{}, apierr.InvalidTransition(string(current.Status), string(next))
	}

	var updated issue.Issue
	path := rest.Path("/api/issues/%d", issueID)
	if err := r.client.Do(ctx, "issue.set_status", http.MethodPut, path, nil, statusPatch{Status: next}, &updated); err != nil {
		return issue.Issue{}, err
	}

	r.store.ClearPrefix(cacheNS)
	r.log.Info("issue status changed", "id", issueID, "from", current.Status, "to", next, "by", actingUserID)

	return updated, nil
}

// Get reads one issue. Session liveness is the only gate on reads.
func (r *Registry) Get(ctx context.Context, issueID int64) (issue.Issue, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return issue.Issue{}, err
	}

	key := cacheNS + strconv.FormatInt(issueID, 10)
	if v, ok := r.store.Get(key); ok {
		if cached, ok := v.(issue.Issue); ok {
			return cached, nil
		}
	}

	var got issue.Issue
	path := rest.Path("/api/issues/%d", issueID)
	if err := r.client.Do(ctx, "issue.get", http.MethodGet, path, nil, nil, &got); err != nil {
		return issue.Issue{}, err
	}

	// cache only after a confirmed response
	r.store.Set(key, got, readCacheTTL)

	return got, nil
}

// List pages through issues. Citizens see their own issues by default;
// staff roles see everything unless they narrow with Mine.
func (r *Registry) List(ctx context.Context, filter issue.ListFilter) (issue.ListResult, error) {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return issue.ListResult{}, err
	}

	if sess.Role == user.RoleCitizen {
		filter.Mine = true
	}

	q := rest.Query(
		"page", strconv.Itoa(max(filter.Page, 1)),
		"per_page", strconv.Itoa(perPageOrDefault(filter.PerPage)),
	)
	if filter.Status != nil {
		q.Set("status", string(*filter.Status))
	}
	if filter.Category != nil {
		q.Set("category", string(*filter.Category))
	}
	if filter.Query != nil {
		q.Set("q", *filter.Query)
	}
	if filter.Mine {
		q.Set("mine", "true")
	}

	key := cacheNS + "list?" + q.Encode() + "&as=" + sess.UserID
	if v, ok := r.store.Get(key); ok {
		if cached, ok := v.(issue.ListResult); ok {
			return cached, nil
		}
	}

	var result issue.ListResult
	if err := r.client.Do(ctx, "issue.list", http.MethodGet, "/api/issues", q, nil, &result); err != nil {
		return issue.ListResult{}, err
	}

	r.store.Set(key, result, readCacheTTL)

	return result, nil
}

type SearchRequest struct {
	Query      string          `json:"query,omitempty"`
	Category   *issue.Category `json:"category,omitempty"`
	Status     *issue.Status   `json:"status,omitempty"`
	MinUpvotes *int            `json:"min_upvotes,omitempty"`
}

func (r *Registry) Search(ctx context.Context, req SearchRequest) (issue.ListResult, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return issue.ListResult{}, err
	}

	var result issue.ListResult
	if err := r.client.Do(ctx, "issue.search", http.MethodPost, "/api/issues/search", nil, req, &result); err != nil {
		return issue.ListResult{}, err
	}
	return result, nil
}

func perPageOrDefault(n int) int {
	if n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}
