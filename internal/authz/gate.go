package authz

import (
	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/civicpulse/engine/internal/session"
)

// Action is a closed set. Permissions hang off these constants, never off
// free-form strings, so a typo can't silently grant anything.
type Action string

const (
	ActionCreateIssue            Action = "create_issue"
	ActionVoteIssue              Action = "vote_issue"
	ActionCreateAssignment       Action = "create_assignment"
	ActionUpdateAssignmentStatus Action = "update_assignment_status"
	ActionAddUpdate              Action = "add_update"
	ActionChangeUserRole         Action = "change_user_role"
	ActionManageUsers            Action = "manage_users"
)

// capabilities is the whole authorization policy. Absence means deny.
var capabilities = map[user.Role]map[Action]struct{}{
	user.RoleCitizen: {
		ActionCreateIssue: {},
		ActionVoteIssue:   {},
	},
	user.RoleStaff: {
		ActionCreateIssue:            {},
		ActionUpdateAssignmentStatus: {},
		ActionAddUpdate:              {},
	},
	user.RoleSupervisor: {
		ActionCreateIssue:            {},
		ActionCreateAssignment:       {},
		ActionUpdateAssignmentStatus: {},
		ActionAddUpdate:              {},
	},
	user.RoleAdmin: {
		ActionCreateIssue:            {},
		ActionCreateAssignment:       {},
		ActionUpdateAssignmentStatus: {},
		ActionAddUpdate:              {},
		ActionChangeUserRole:         {},
		ActionManageUsers:            {},
	},
}

// Authorize is pure: no I/O, no mutation, just (role, action) lookup.
func Authorize(sess session.Session, action Action) bool {
	allowed, ok := capabilities[sess.Role]
	if !ok {
		return false
	}
	_, ok = allowed[action]
	return ok
}

// AuthorizeOwned layers the data-dependent "own" rule on top of the static
// table. Staff and supervisors may only touch assignments where they are
// the assignee; admins pass on the table alone.
func AuthorizeOwned(sess session.Session, action Action, ownerID string) bool {
	if !Authorize(sess, action) {
		return false
	}

	if action == ActionUpdateAssignmentStatus && sess.Role != user.RoleAdmin {
		return sess.UserID == ownerID
	}

	return true
}

// Require wraps Authorize into the error the mutating components surface.
func Require(sess session.Session, action Action) error {
	if !Authorize(sess, action) {
		return apierr.Forbidden("Your role is not allowed to " + string(action) + ".")
	}
	return nil
}

func RequireOwned(sess session.Session, action Action, ownerID string) error {
	if !AuthorizeOwned(sess, action, ownerID) {
		return apierr.Forbidden("You are not allowed to modify this assignment.")
	}
	return nil
}
