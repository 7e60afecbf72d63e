package devserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/engine/internal/domain/assignment"
	"github.com/civicpulse/engine/internal/domain/issue"
	"github.com/civicpulse/engine/internal/domain/update"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/google/uuid"
)

// Store is the in-memory state behind the stub backend. It enforces the
// same invariants a production backend would hold with constraints:
// one active assignment per issue, one vote per user, forward-only status.
var (
	ErrEmailTaken      = errors.New("email already registered")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrAlreadyVoted    = errors.New("already voted")
	ErrVoteNotFound    = errors.New("vote not found")
	ErrAlreadyAssigned = errors.New("issue already has an active assignment")
	ErrNotStaff        = errors.New("assignee is not a staff member")
	ErrBadTransition   = errors.New("illegal status transition")
)

type account struct {
	user.User
	// plaintext on purpose: this store is a test fixture, not a product
	password string
}

type Store struct {
	mu sync.RWMutex

	users   map[string]*account
	byEmail map[string]string

	issues      map[int64]*issue.Issue
	assignments map[int64]*assignment.Assignment
	updates     map[int64]*update.Update

	lastAssigned map[string]time.Time

	nextIssue      int64
	nextAssignment int64
	nextUpdate     int64
}

func NewStore() *Store {
	return &Store{
		users:        make(map[string]*account),
		byEmail:      make(map[string]string),
		issues:       make(map[int64]*issue.Issue),
		assignments:  make(map[int64]*assignment.Assignment),
		updates:      make(map[int64]*update.Update),
		lastAssigned: make(map[string]time.Time),
	}
}

// ---- users

func (s *Store) CreateUser(email, password, fullName, phone string, role user.Role, department string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, taken := s.byEmail[key]; taken {
		return user.User{}, ErrEmailTaken
	}

	if !role.Valid() {
		role = user.RoleCitizen
	}

	u := user.User{
		ID:         uuid.NewString(),
		Email:      email,
		FullName:   fullName,
		Phone:      phone,
		Role:       role,
		Department: department,
		CreatedAt:  time.Now().UTC(),
	}

	s.users[u.ID] = &account{User: u, password: password}
	s.byEmail[key] = u.ID

	return u, nil
}

func (s *Store) Authenticate(email, password string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, ErrBadCredentials
	}

	acct := s.users[id]
	if acct.password != password {
		return user.User{}, ErrBadCredentials
	}

	return acct.User, nil
}

func (s *Store) GetUser(id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return acct.User, nil
}

func (s *Store) ListUsers(role user.Role, department string) []user.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.User, 0, len(s.users))
	for _, acct := range s.users {
		if role != "" && acct.Role != role {
			continue
		}
		if department != "" && acct.Department != department {
			continue
		}
		out = append(out, acct.User)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateUser(id string, apply func(*user.User)) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	apply(&acct.User)
	return acct.User, nil
}

// ---- issues

func (s *Store) CreateIssue(req issue.CreateRequest, citizenID string) issue.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextIssue++
	now := time.Now().UTC()

	i := issue.Issue{
		ID:          s.nextIssue,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Status:      issue.StatusPending,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		ImageURL:    req.ImageURL,
		CitizenID:   citizenID,
		Voters:      []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.issues[i.ID] = &i
	return i
}

func (s *Store) GetIssue(id int64) (issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.issues[id]
	if !ok {
		return issue.Issue{}, issue.ErrNotFound
	}
	return *i, nil
}

type IssueQuery struct {
	Status    *issue.Status
	Category  *issue.Category
	CitizenID string
	Query     string
	Page      int
	PerPage   int
}

func (s *Store) ListIssues(q IssueQuery) ([]issue.Issue, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]issue.Issue, 0, len(s.issues))
	for _, i := range s.issues {
		if q.Status != nil && i.Status != *q.Status {
			continue
		}
		if q.Category != nil && i.Category != *q.Category {
			continue
		}
		if q.CitizenID != "" && i.CitizenID != q.CitizenID {
			continue
		}
		if q.Query != "" {
			needle := strings.ToLower(q.Query)
			if !strings.Contains(strings.ToLower(i.Title), needle) &&
				!strings.Contains(strings.ToLower(i.Description), needle) {
				continue
			}
		}
		matched = append(matched, *i)
	}

	// newest first, stable order for paging
	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID > matched[b].ID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)

	page := q.Page
	if page < 1 {
		page = 1
	}
	per := q.PerPage
	if per <= 0 {
		per = 20
	}

	lo := (page - 1) * per
	if lo >= total {
		return []issue.Issue{}, total
	}
	hi := lo + per
	if hi > total {
		hi = total
	}

	return matched[lo:hi], total
}

func (s *Store) SetIssueStatus(id int64, next issue.Status) (issue.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.issues[id]
	if !ok {
		return issue.Issue{}, issue.ErrNotFound
	}

	if !i.Status.CanTransitionTo(next) {
		return issue.Issue{}, ErrBadTransition
	}

	i.Status = next
	i.UpdatedAt = time.Now().UTC()
	return *i, nil
}

// Vote appends the voter once. The upvote total is always derived from the
// voter set, so there is no counter to keep in step.
func (s *Store) Vote(issueID int64, userID string) (issue.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.issues[issueID]
	if !ok {
		return issue.Issue{}, issue.ErrNotFound
	}

	if i.HasVoted(userID) {
		return issue.Issue{}, ErrAlreadyVoted
	}

	i.Voters = append(i.Voters, userID)
	i.UpdatedAt = time.Now().UTC()
	return *i, nil
}

func (s *Store) Unvote(issueID int64, userID string) (issue.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.issues[issueID]
	if !ok {
		return issue.Issue{}, issue.ErrNotFound
	}

	for idx, v := range i.Voters {
		if v == userID {
			i.Voters = append(i.Voters[:idx], i.Voters[idx+1:]...)
			i.UpdatedAt = time.Now().UTC()
			return *i, nil
		}
	}

	return issue.Issue{}, ErrVoteNotFound
}

// ---- assignments

// CreateAssignment enforces, atomically, the invariant the engine's
// pre-check cannot guarantee under a race: at most one active assignment
// per issue.
func (s *Store) CreateAssignment(issueID int64, staffID, assignedBy, notes string) (assignment.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.issues[issueID]
	if !ok {
		return assignment.Assignment{}, issue.ErrNotFound
	}
	if i.Status == issue.StatusResolved {
		return assignment.Assignment{}, ErrBadTransition
	}

	acct, ok := s.users[staffID]
	if !ok {
		return assignment.Assignment{}, user.ErrNotFound
	}
	if acct.Role != user.RoleStaff {
		return assignment.Assignment{}, ErrNotStaff
	}

	for _, a := range s.assignments {
		if a.IssueID == issueID && a.Status.Active() {
			return assignment.Assignment{}, ErrAlreadyAssigned
		}
	}

	s.nextAssignment++
	now := time.Now().UTC()

	a := assignment.Assignment{
		ID:         s.nextAssignment,
		IssueID:    issueID,
		AssigneeID: staffID,
		Status:     assignment.StatusAssigned,
		AssignedBy: assignedBy,
		AssignedAt: now,
		Notes:      notes,
	}

	s.assignments[a.ID] = &a
	s.lastAssigned[staffID] = now

	// first assignment pulls a pending issue into progress
	if i.Status == issue.StatusPending {
		i.Status = issue.StatusInProgress
		i.UpdatedAt = now
	}

	return a, nil
}

func (s *Store) GetAssignment(id int64) (assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return *a, nil
}

func (s *Store) SetAssignmentStatus(id int64, next assignment.Status, notes string) (assignment.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}

	if !a.Status.CanTransitionTo(next) {
		return assignment.Assignment{}, ErrBadTransition
	}

	a.Status = next
	if notes != "" {
		a.Notes = notes
	}
	return *a, nil
}

func (s *Store) DeleteAssignment(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[id]; !ok {
		return assignment.ErrNotFound
	}
	delete(s.assignments, id)
	return nil
}

func (s *Store) ListAssignments(staffID string, issueID int64, activeOnly bool) []assignment.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]assignment.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		if staffID != "" && a.AssigneeID != staffID {
			continue
		}
		if issueID != 0 && a.IssueID != issueID {
			continue
		}
		if activeOnly && !a.Status.Active() {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Workload(staffID string) user.Workload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := user.Workload{UserID: staffID, LastAssignedAt: s.lastAssigned[staffID]}
	for _, a := range s.assignments {
		if a.AssigneeID != staffID {
			continue
		}
		if a.Status.Active() {
			w.Active++
		} else {
			w.Completed++
		}
	}
	return w
}

// ---- updates

func (s *Store) AppendUpdate(issueID int64, authorID, text string, terminal bool) (update.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.issues[issueID]
	if !ok {
		return update.Update{}, issue.ErrNotFound
	}

	s.nextUpdate++
	u := update.Update{
		ID:        s.nextUpdate,
		IssueID:   issueID,
		AuthorID:  authorID,
		Text:      text,
		Terminal:  terminal,
		CreatedAt: time.Now().UTC(),
	}

	s.updates[u.ID] = &u
	i.UpdatedAt = u.CreatedAt

	return u, nil
}

func (s *Store) GetUpdate(id int64) (update.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.updates[id]
	if !ok {
		return update.Update{}, update.ErrNotFound
	}
	return *u, nil
}

func (s *Store) DeleteUpdate(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.updates[id]; !ok {
		return update.ErrNotFound
	}
	delete(s.updates, id)
	return nil
}

// ListUpdates returns one page of an issue's updates, oldest first.
func (s *Store) ListUpdates(issueID int64, page, per int) ([]update.Update, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]update.Update, 0, 8)
	for _, u := range s.updates {
		if u.IssueID == issueID {
			matched = append(matched, *u)
		}
	}

	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID < matched[b].ID
		}
		return matched[a].CreatedAt.Before(matched[b].CreatedAt)
	})

	total := len(matched)

	if page < 1 {
		page = 1
	}
	if per <= 0 {
		per = 50
	}

	lo := (page - 1) * per
	if lo >= total {
		return []update.Update{}, total
	}
	hi := lo + per
	if hi > total {
		hi = total
	}

	return matched[lo:hi], total
}

// HasAssignmentFor reports whether the staff member holds any assignment on
// the issue (used for the staff update-permission rule).
func (s *Store) HasAssignmentFor(issueID int64, staffID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments {
		if a.IssueID == issueID && a.AssigneeID == staffID {
			return true
		}
	}
	return false
}

// Stats aggregates the dashboard numbers in one pass under the read lock.
func (s *Store) Stats() (issues map[string]int, byCategory map[string]int, upvotes int, usersByRole map[string]int, asn map[string]int, totalUpdates int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issues = map[string]int{}
	byCategory = map[string]int{}
	usersByRole = map[string]int{}
	asn = map[string]int{}

	for _, i := range s.issues {
		issues[string(i.Status)]++
		byCategory[string(i.Category)]++
		upvotes += len(i.Voters)
	}
	for _, acct := range s.users {
		usersByRole[string(acct.Role)]++
	}
	for _, a := range s.assignments {
		if a.Status.Active() {
			asn["active"]++
		} else {
			asn["completed"]++
		}
	}
	totalUpdates = len(s.updates)

	return
}
