package updatelog

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/authz"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/domain/assignment"
	"github.com/civicpulse/engine/internal/domain/issue"
	"github.com/civicpulse/engine/internal/domain/update"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/civicpulse/engine/internal/session"
	"github.com/go-playground/validator/v10"
)

const cacheNS = "updates/"

// IssueResolver is the slice of the issue registry the log needs for
// terminal updates.
type IssueResolver interface {
	SetStatus(ctx context.Context, issueID int64, next issue.Status, actingUserID string) (issue.Issue, error)
}

// AssignmentCompleter is the slice of the assignment router the log needs.
type AssignmentCompleter interface {
	ListByIssue(ctx context.Context, issueID int64, activeOnly bool) ([]assignment.Assignment, error)
	UpdateStatus(ctx context.Context, assignmentID int64, next assignment.Status) (assignment.Assignment, error)
}

// Log is the append-only progress record on issues. A terminal update is
// the only path that resolves an issue and completes its assignment.
type Log struct {
	client      *rest.Client
	sessions    *session.Manager
	issues      IssueResolver
	assignments AssignmentCompleter
	store       *cache.Cache
	log         *slog.Logger
	validate    *validator.Validate
}

func New(client *rest.Client, sessions *session.Manager, issues IssueResolver, assignments AssignmentCompleter, store *cache.Cache, log *slog.Logger) *Log {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")

	return &Log{
		client:      client,
		sessions:    sessions,
		issues:      issues,
		assignments: assignments,
		store:       store,
		log:         log,
		validate:    v,
	}
}

// Append writes one progress note. With terminal=true it also, in order,
// resolves the issue and completes the active assignment. The backend has
// no multi-step transaction for us, so this is one logical unit client
// side: if resolution fails the note is compensated away; if only the
// completion fails the caller gets a PartialFailure naming the failed half
// so the UI can retry that half alone instead of re-posting the note.
func (l *Log) Append(ctx context.Context, issueID int64, text string, terminal bool) (update.Update, error) {
	sess, err := l.sessions.RequireLive()
	if err != nil {
		return update.Update{}, err
	}
	if err := authz.Require(sess, authz.ActionAddUpdate); err != nil {
		return update.Update{}, err
	}

	req := update.CreateRequest{IssueID: issueID, Text: text, Terminal: terminal}
	if err := l.validate.Struct(req); err != nil {
		return update.Update{}, apierr.Validation("Update text is required (max 1000 characters).", err.Error())
	}

	// snapshot the active assignment before mutating anything
	var activeID int64
	if terminal {
		active, err := l.assignments.ListByIssue(ctx, issueID, true)
		if err != nil {
			return update.Update{}, err
		}
		if len(active) > 0 {
			activeID = active[0].ID
		}
	}

	var appended update.Update
	if err := l.client.Do(ctx, "update.append", http.MethodPost, "/api/updates", nil, req, &appended); err != nil {
		return update.Update{}, err
	}

	l.store.ClearPrefix(cacheNS)

	if !terminal {
		return appended, nil
	}

	// step 1: resolve the issue
	if _, err := l.issues.SetStatus(ctx, issueID, issue.StatusResolved, sess.UserID); err != nil {
		l.rollbackNote(ctx, appended.ID)
		return update.Update{}, err
	}

	// step 2: complete the active assignment, if any
	if activeID != 0 {
		if _, err := l.assignments.UpdateStatus(ctx, activeID, assignment.StatusCompleted); err != nil {
			l.log.Warn("terminal update resolved issue but assignment completion failed",
				"issue", issueID, "assignment", activeID, "err", err)

			return appended, apierr.Partial(
				"The issue was resolved, but its assignment could not be marked completed. Retry the completion.",
				apierr.PartialDetail{IssueResolved: true, AssignmentCompleted: false},
			)
		}
	}

	return appended, nil
}

// rollbackNote is best effort; the terminal commit already failed and the
// caller is getting that error regardless.
func (l *Log) rollbackNote(ctx context.Context, updateID int64) {
	path := rest.Path("/api/updates/%d", updateID)
	if err := l.client.Do(ctx, "update.rollback", http.MethodDelete, path, nil, nil, nil); err != nil {
		l.log.Warn("could not roll back orphaned update", "id", updateID, "err", err)
	}
}

type listResponse struct {
	Updates    []update.Update  `json:"updates"`
	Pagination issue.Pagination `json:"pagination"`
}

const seqPageSize = 50

// Sequence is a lazy, restartable view of an issue's updates in createdAt
// order. Each ranging pulls fresh pages; iterating twice has no side
// effects beyond the reads themselves.
type Sequence struct {
	log     *Log
	issueID int64
}

func (l *Log) ListByIssue(issueID int64) *Sequence {
	return &Sequence{log: l, issueID: issueID}
}

// Iter yields updates oldest first. The error, when non-nil, is the last
// pair yielded; iteration stops after it.
func (s *Sequence) Iter(ctx context.Context) iter.Seq2[update.Update, error] {
	return func(yield func(update.Update, error) bool) {
		if _, err := s.log.sessions.RequireLive(); err != nil {
			yield(update.Update{}, err)
			return
		}

		page := 1
		for {
			q := rest.Query(
				"page", strconv.Itoa(page),
				"per_page", strconv.Itoa(seqPageSize),
			)

			var resp listResponse
			path := rest.Path("/api/updates/issue/%d", s.issueID)
			if err := s.log.client.Do(ctx, "update.list", http.MethodGet, path, q, nil, &resp); err != nil {
				yield(update.Update{}, err)
				return
			}

			for _, u := range resp.Updates {
				if !yield(u, nil) {
					return
				}
			}

			if !resp.Pagination.HasNext {
				return
			}
			page++
		}
	}
}

// Collect drains the sequence into a slice for callers that just want all
// of it.
func (s *Sequence) Collect(ctx context.Context) ([]update.Update, error) {
	var out []update.Update

	for u, err := range s.Iter(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}

	return out, nil
}
