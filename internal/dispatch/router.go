package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/authz"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/domain/assignment"
	"github.com/civicpulse/engine/internal/domain/issue"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/civicpulse/engine/internal/session"
)

const cacheNS = "assignments/"

// IssueReader is the slice of the issue registry the router needs.
// Keep this small interface so tests can fake it easily.
type IssueReader interface {
	Get(ctx context.Context, issueID int64) (issue.Issue, error)
}

// Router owns work assignments: who gets an issue, and how their status
// advances. Staff selection is workload balanced so open work spreads
// across the pool instead of piling on one person.
type Router struct {
	client   *rest.Client
	sessions *session.Manager
	issues   IssueReader
	store    *cache.Cache
	log      *slog.Logger
}

func New(client *rest.Client, sessions *session.Manager, issues IssueReader, store *cache.Cache, log *slog.Logger) *Router {
	return &Router{
		client:   client,
		sessions: sessions,
		issues:   issues,
		store:    store,
		log:      log,
	}
}

// Candidate is one eligible staff member with their current load.
type Candidate struct {
	UserID         string
	Active         int
	LastAssignedAt time.Time
}

// Select picks the candidate with the fewest active assignments; ties go to
// whoever was assigned least recently. The sort is stable so equal
// candidates keep their pool order, which keeps tests deterministic.
func Select(pool []Candidate) (Candidate, bool) {
	if len(pool) == 0 {
		return Candidate{}, false
	}

	picked := make([]Candidate, len(pool))
	copy(picked, pool)

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Active != picked[j].Active {
			return picked[i].Active < picked[j].Active
		}
		return picked[i].LastAssignedAt.Before(picked[j].LastAssignedAt)
	})

	return picked[0], true
}

type listResponse struct {
	Assignments []assignment.Assignment `json:"assignments"`
}

// Create routes the issue to the best-loaded member of pool. Preconditions:
// the issue is still open (pending/in_progress) and has no active
// assignment. A race on the second check is settled by the backend's 409,
// which is surfaced and never retried.
func (r *Router) Create(ctx context.Context, issueID int64, pool []Candidate, notes string) (assignment.Assignment, error) {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return assignment.Assignment{}, err
	}
	if err := authz.Require(sess, authz.ActionCreateAssignment); err != nil {
		return assignment.Assignment{}, err
	}

	target, err := r.issues.Get(ctx, issueID)
	if err != nil {
		return assignment.Assignment{}, err
	}
	if target.Status == issue.StatusResolved {
		return assignment.Assignment{}, apierr.Conflict("issue_closed", "A resolved issue cannot be assigned.")
	}

	active, err := r.ListByIssue(ctx, issueID, true)
	if err != nil {
		return assignment.Assignment{}, err
	}
	if len(active) > 0 {
		return assignment.Assignment{}, apierr.Conflict(
			"issue_already_assigned",
			"This issue already has an active assignment. Cancel it first to reassign.",
		)
	}

	chosen, ok := Select(pool)
	if !ok {
		return assignment.Assignment{}, apierr.Validation("No eligible staff to assign.", nil)
	}

	req := assignment.CreateRequest{IssueID: issueID, StaffID: chosen.UserID, Notes: notes}

	var created assignment.Assignment
	if err := r.client.Do(ctx, "assignment.create", http.MethodPost, "/api/assignments", nil, req, &created); err != nil {
		return assignment.Assignment{}, err
	}

	// the backend moves a pending issue to in_progress on first assignment
	r.store.ClearPrefix(cacheNS)
	r.store.ClearPrefix("issues/")
	r.log.Info("assignment created", "issue", issueID, "assignee", created.AssigneeID, "by", sess.UserID)

	return created, nil
}

// UpdateStatus advances one assignment. Only the assignee may move their
// own work; supervisors are held to the same ownership rule, admins pass.
func (r *Router) UpdateStatus(ctx context.Context, assignmentID int64, next assignment.Status) (assignment.Assignment, error) {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return assignment.Assignment{}, err
	}

	current, err := r.Get(ctx, assignmentID)
	if err != nil {
		return assignment.Assignment{}, err
	}

	if err := authz.RequireOwned(sess, authz.ActionUpdateAssignmentStatus, current.AssigneeID); err != nil {
		return assignment.Assignment{}, err
	}

	if !current.Status.CanTransitionTo(next) {
		return assignment.Assignment{}, apierr.InvalidTransition(string(current.Status), string(next))
	}

	req := assignment.UpdateRequest{Status: next}

	var updated assignment.Assignment
	path := rest.Path("/api/assignments/%d", assignmentID)
	if err := r.client.Do(ctx, "assignment.update", http.MethodPut, path, nil, req, &updated); err != nil {
		return assignment.Assignment{}, err
	}

	r.store.ClearPrefix(cacheNS)

	return updated, nil
}

// Cancel is the explicit half of reassignment: cancel, then create. Nothing
// is ever silently overwritten.
func (r *Router) Cancel(ctx context.Context, assignmentID int64) error {
	sess, err := r.sessions.RequireLive()
	if err != nil {
		return err
	}
	if err := authz.Require(sess, authz.ActionCreateAssignment); err != nil {
		return err
	}

	path := rest.Path("/api/assignments/%d", assignmentID)
	if err := r.client.Do(ctx, "assignment.cancel", http.MethodDelete, path, nil, nil, nil); err != nil {
		return err
	}

	r.store.ClearPrefix(cacheNS)
	r.log.Info("assignment cancelled", "id", assignmentID, "by", sess.UserID)

	return nil
}

func (r *Router) Get(ctx context.Context, assignmentID int64) (assignment.Assignment, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return assignment.Assignment{}, err
	}

	var got assignment.Assignment
	path := rest.Path("/api/assignments/%d", assignmentID)
	if err := r.client.Do(ctx, "assignment.get", http.MethodGet, path, nil, nil, &got); err != nil {
		return assignment.Assignment{}, err
	}
	return got, nil
}

// ListActive returns the non-completed assignments carried by one staff
// member; this is exactly what Select counts.
func (r *Router) ListActive(ctx context.Context, assigneeID string) ([]assignment.Assignment, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return nil, err
	}

	q := rest.Query("staff_id", assigneeID, "active", "true")

	var resp listResponse
	if err := r.client.Do(ctx, "assignment.list_active", http.MethodGet, "/api/assignments", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}

// Mine returns the caller's own assignments, completed ones included.
func (r *Router) Mine(ctx context.Context) ([]assignment.Assignment, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return nil, err
	}

	var resp listResponse
	if err := r.client.Do(ctx, "assignment.mine", http.MethodGet, "/api/assignments/my", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}

func (r *Router) ListByIssue(ctx context.Context, issueID int64, activeOnly bool) ([]assignment.Assignment, error) {
	if _, err := r.sessions.RequireLive(); err != nil {
		return nil, err
	}

	q := rest.Query("issue_id", strconv.FormatInt(issueID, 10))
	if activeOnly {
		q.Set("active", "true")
	}

	var resp listResponse
	if err := r.client.Do(ctx, "assignment.list_by_issue", http.MethodGet, "/api/assignments", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}
