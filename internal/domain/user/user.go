package user

import (
	"errors"
	"time"
)

type Role string

const (
	RoleCitizen    Role = "citizen"
	RoleStaff      Role = "staff"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleStaff, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email,omitempty"`
	FullName   string    `json:"full_name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var ErrNotFound = errors.New("user not found")

// The web console sends display names for roles; the backend stores the
// short form. Anything unknown falls through to citizen.
func MapConsoleRole(raw string) Role {
	switch raw {
	case "Admin":
		return RoleAdmin
	case "DepartmentStaff":
		return RoleStaff
	case "FieldSupervisor":
		return RoleSupervisor
	}

	r := Role(raw)
	if r.Valid() {
		return r
	}
	return RoleCitizen
}

type UpdateProfileRequest struct {
	FullName   string `json:"full_name,omitempty" binding:"omitempty,max=100"`
	Phone      string `json:"phone,omitempty" binding:"omitempty,max=20"`
	Department string `json:"department,omitempty" binding:"omitempty,max=50"`
}

// Workload is what the routing algorithm counts per staff member.
type Workload struct {
	UserID         string    `json:"user_id"`
	Active         int       `json:"active_assignments"`
	Completed      int       `json:"completed_assignments"`
	LastAssignedAt time.Time `json:"last_assigned_at"`
}
