package directory

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicpulse/engine/internal/authz"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/civicpulse/engine/internal/session"
)

const (
	cacheNS      = "users/"
	readCacheTTL = 30 * time.Second
)

// Directory is the user-administration surface: listing staff for routing,
// and the admin-only profile/role mutations.
type Directory struct {
	client   *rest.Client
	sessions *session.Manager
	store    *cache.Cache
	log      *slog.Logger
}

func New(client *rest.Client, sessions *session.Manager, store *cache.Cache, log *slog.Logger) *Directory {
	return &Directory{client: client, sessions: sessions, store: store, log: log}
}

type listResponse struct {
	Users []user.User `json:"users"`
}

// List is the admin view over every account.
func (d *Directory) List(ctx context.Context, role user.Role, department string) ([]user.User, error) {
	sess, err := d.sessions.RequireLive()
	if err != nil {
		return nil, err
	}
	if err := authz.Require(sess, authz.ActionManageUsers); err != nil {
		return nil, err
	}

	q := rest.Query("role", string(role), "department", department)

	var resp listResponse
	if err := d.client.Do(ctx, "user.list", http.MethodGet, "/api/users", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// ListStaff feeds the assignment candidate pool, so it is gated the same
// way as assignment creation.
func (d *Directory) ListStaff(ctx context.Context, department string) ([]user.User, error) {
	sess, err := d.sessions.RequireLive()
	if err != nil {
		return nil, err
	}
	if err := authz.Require(sess, authz.ActionCreateAssignment); err != nil {
		return nil, err
	}

	key := cacheNS + "staff?dept=" + department
	if v, ok := d.store.Get(key); ok {
		if cached, ok := v.([]user.User); ok {
			return cached, nil
		}
	}

	q := rest.Query("department", department)

	var resp listResponse
	if err := d.client.Do(ctx, "user.list_staff", http.MethodGet, "/api/users/staff", q, nil, &resp); err != nil {
		return nil, err
	}

	d.store.Set(key, resp.Users, readCacheTTL)

	return resp.Users, nil
}

func (d *Directory) Get(ctx context.Context, userID string) (user.User, error) {
	if _, err := d.sessions.RequireLive(); err != nil {
		return user.User{}, err
	}

	var u user.User
	if err := d.client.Do(ctx, "user.get", http.MethodGet, "/api/users/"+userID, nil, nil, &u); err != nil {
		return user.User{}, err
	}
	return u, nil
}

type changeRoleRequest struct {
	Role       user.Role `json:"role"`
	Department string    `json:"department,omitempty"`
}

// ChangeRole is the only path that mutates a user's role, and only admins
// hold the capability.
func (d *Directory) ChangeRole(ctx context.Context, userID string, role user.Role, department string) (user.User, error) {
	sess, err := d.sessions.RequireLive()
	if err != nil {
		return user.User{}, err
	}
	if err := authz.Require(sess, authz.ActionChangeUserRole); err != nil {
		return user.User{}, err
	}

	var u user.User
	path := "/api/users/" + userID + "/change-role"
	if err := d.client.Do(ctx, "user.change_role", http.MethodPost, path, nil, changeRoleRequest{Role: role, Department: department}, &u); err != nil {
		return user.User{}, err
	}

	d.store.ClearPrefix(cacheNS)
	d.log.Info("user role changed", "user", userID, "role", role, "by", sess.UserID)

	return u, nil
}

// UpdateProfile edits name/phone/department. Users may edit themselves;
// anything else needs the manage_users capability.
func (d *Directory) UpdateProfile(ctx context.Context, userID string, req user.UpdateProfileRequest) (user.User, error) {
	sess, err := d.sessions.RequireLive()
	if err != nil {
		return user.User{}, err
	}
	if sess.UserID != userID {
		if err := authz.Require(sess, authz.ActionManageUsers); err != nil {
			return user.User{}, err
		}
	}

	var u user.User
	if err := d.client.Do(ctx, "user.update", http.MethodPut, "/api/users/"+userID, nil, req, &u); err != nil {
		return user.User{}, err
	}

	d.store.ClearPrefix(cacheNS)

	return u, nil
}

// Workload reports one staff member's load; the router's selection counts
// lean on it.
func (d *Directory) Workload(ctx context.Context, userID string) (user.Workload, error) {
	sess, err := d.sessions.RequireLive()
	if err != nil {
		return user.Workload{}, err
	}
	if err := authz.Require(sess, authz.ActionCreateAssignment); err != nil {
		return user.Workload{}, err
	}

	var w user.Workload
	path := "/api/users/" + userID + "/workload"
	if err := d.client.Do(ctx, "user.workload", http.MethodGet, path, nil, nil, &w); err != nil {
		return user.Workload{}, err
	}
	return w, nil
}
