package assignment

import (
	"errors"
	"time"
)

type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusAssigned:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted
	}
	return false
}

// Active means the assignment still occupies its staff member. At most one
// active assignment may exist per issue at any time.
func (s Status) Active() bool {
	return s != StatusCompleted
}

type Assignment struct {
	ID         int64     `json:"id"`
	IssueID    int64     `json:"issue_id"`
	AssigneeID string    `json:"staff_id"`
	Status     Status    `json:"status"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
	Notes      string    `json:"notes,omitempty"`
}

var (
	ErrNotFound = errors.New("assignment not found")
)

type CreateRequest struct {
	IssueID int64  `json:"issue_id" binding:"required"`
	StaffID string `json:"staff_id" binding:"required"`
	Notes   string `json:"notes,omitempty" binding:"omitempty,max=500"`
}

type UpdateRequest struct {
	Status Status `json:"status" binding:"required,oneof=assigned in_progress completed"`
	Notes  string `json:"notes,omitempty" binding:"omitempty,max=500"`
}
