package devserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/civicpulse/engine/internal/domain/assignment"
	"github.com/civicpulse/engine/internal/domain/issue"
	"github.com/civicpulse/engine/internal/domain/update"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Server is the in-process stub backend. It exists for the dev sandbox and
// for integration tests: same routes, same envelopes, same status codes as
// the hosted API, backed by memory instead of a database.
type Server struct {
	store  *Store
	tokens *tokenManager
	log    *slog.Logger
}

func New(secret string, tokenTTL time.Duration, log *slog.Logger) *Server {
	return &Server{
		store:  NewStore(),
		tokens: newTokenManager(secret, tokenTTL),
		log:    log,
	}
}

func (s *Server) Store() *Store { return s.store }

// SeedAdmin creates a ready-made admin account so a fresh sandbox is usable
// without a registration dance.
func (s *Server) SeedAdmin(email, password string) (user.User, error) {
	return s.store.CreateUser(email, password, "Sandbox Admin", "", user.RoleAdmin, "")
}

const ctxIdentity = "identity"

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/register", s.handleRegister)
	auth.POST("/login", s.handleLogin)
	auth.POST("/verify-token", s.handleVerify)
	auth.POST("/logout", s.requireAuth, s.handleLogout)
	auth.GET("/me", s.requireAuth, s.handleMe)
	auth.POST("/refresh", s.requireAuth, s.handleRefresh)

	issues := api.Group("/issues", s.requireAuth)
	issues.POST("", s.handleIssueCreate)
	issues.GET("", s.handleIssueList)
	issues.POST("/search", s.handleIssueSearch)
	issues.GET("/:id", s.handleIssueGet)
	issues.PUT("/:id", s.handleIssueSetStatus)
	issues.POST("/:id/vote", s.handleVote)
	issues.DELETE("/:id/vote", s.handleUnvote)

	asn := api.Group("/assignments", s.requireAuth)
	asn.POST("", s.handleAssignmentCreate)
	asn.GET("", s.handleAssignmentList)
	asn.GET("/my", s.handleAssignmentMine)
	asn.GET("/:id", s.handleAssignmentGet)
	asn.PUT("/:id", s.handleAssignmentUpdate)
	asn.DELETE("/:id", s.handleAssignmentDelete)

	upd := api.Group("/updates", s.requireAuth)
	upd.POST("", s.handleUpdateCreate)
	upd.DELETE("/:id", s.handleUpdateDelete)
	upd.GET("/issue/:id", s.handleUpdateList)

	users := api.Group("/users", s.requireAuth)
	users.GET("", s.handleUserList)
	users.GET("/staff", s.handleStaffList)
	users.GET("/:id", s.handleUserGet)
	users.PUT("/:id", s.handleUserUpdate)
	users.POST("/:id/change-role", s.handleChangeRole)
	users.GET("/:id/workload", s.handleWorkload)

	api.GET("/dashboard", s.requireAuth, s.handleDashboard)

	return r
}

// ---- middleware

func (s *Server) requireAuth(c *gin.Context) {
	raw := bearer(c)
	if raw == "" {
		fail(c, http.StatusUnauthorized, "missing_token", "Authorization required")
		return
	}

	cl, err := s.tokens.check(raw)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid_token", "Token is invalid or expired")
		return
	}

	// the store, not the token, is authoritative for the current role
	u, err := s.store.GetUser(cl.UserID)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid_token", "Token subject no longer exists")
		return
	}

	c.Set(ctxIdentity, u)
	c.Next()
}

func bearer(c *gin.Context) string {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func identity(c *gin.Context) user.User {
	u, _ := c.Get(ctxIdentity)
	return u.(user.User)
}

// ---- auth handlers

type registerBody struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6,max=100"`
	FullName   string `json:"full_name" binding:"required,max=100"`
	Phone      string `json:"phone" binding:"omitempty,max=20"`
	Role       string `json:"role" binding:"omitempty"`
	Department string `json:"department" binding:"omitempty,max=50"`
}

type authBody struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        user.User `json:"user"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failValidation(c, err)
		return
	}

	u, err := s.store.CreateUser(body.Email, body.Password, body.FullName, body.Phone,
		user.MapConsoleRole(body.Role), body.Department)
	if errors.Is(err, ErrEmailTaken) {
		fail(c, http.StatusConflict, "email_taken", "An account with this email already exists")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "could not create account")
		return
	}

	s.respondAuth(c, http.StatusCreated, u)
}

type loginBody struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failValidation(c, err)
		return
	}

	u, err := s.store.Authenticate(body.Email, body.Password)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid_credentials", "Email or password is incorrect")
		return
	}

	s.respondAuth(c, http.StatusOK, u)
}

func (s *Server) respondAuth(c *gin.Context, status int, u user.User) {
	tok, err := s.tokens.mint(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "could not mint token")
		return
	}
	c.JSON(status, authBody{AccessToken: tok, TokenType: "bearer", User: u})
}

// handleVerify always answers 200; validity travels in the body.
func (s *Server) handleVerify(c *gin.Context) {
	raw := bearer(c)
	if raw == "" {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	cl, err := s.tokens.check(raw)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	u, err := s.store.GetUser(cl.UserID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "user": u})
}

func (s *Server) handleLogout(c *gin.Context) {
	// stateless tokens: nothing to revoke in the stub
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, identity(c))
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.respondAuth(c, http.StatusOK, identity(c))
}

// ---- issue handlers

func (s *Server) handleIssueCreate(c *gin.Context) {
	var req issue.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, err)
		return
	}

	created := s.store.CreateIssue(req, identity(c).ID)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleIssueList(c *gin.Context) {
	q := IssueQuery{
		Query:   c.Query("q"),
		Page:    intQuery(c, "page", 1),
		PerPage: intQuery(c, "per_page", 20),
	}

	if raw := c.Query("status"); raw != "" {
		st := issue.Status(raw)
		q.Status = &st
	}
	if raw := c.Query("category"); raw != "" {
		cat := issue.Category(raw)
		q.Category = &cat
	}
	if c.Query("mine") == "true" {
		q.CitizenID = identity(c).ID
	}

	items, total := s.store.ListIssues(q)
	c.JSON(http.StatusOK, issue.ListResult{
		Issues:     items,
		Pagination: paginate(total, q.Page, q.PerPage),
	})
}

type searchBody struct {
	Query      string          `json:"query"`
	Category   *issue.Category `json:"category"`
	Status     *issue.Status   `json:"status"`
	MinUpvotes *int            `json:"min_upvotes"`
}

func (s *Server) handleIssueSearch(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failValidation(c, err)
		return
	}

	items, _ := s.store.ListIssues(IssueQuery{
		Query:    body.Query,
		Status:   body.Status,
		Category: body.Category,
		Page:     1,
		PerPage:  100,
	})

	if body.MinUpvotes != nil {
		kept := items[:0]
		for _, i := range items {
			if i.Upvotes() >= *body.MinUpvotes {
				kept = append(kept, i)
			}
		}
		items = kept
	}

	c.JSON(http.StatusOK, issue.ListResult{
		Issues:     items,
		Pagination: paginate(len(items), 1, 100),
	})
}

func (s *Server) handleIssueGet(c *gin.Context) {
	got, err := s.store.GetIssue(pathID(c))
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "Issue not found")
		return
	}
	c.JSON(http.StatusOK, got)
}

type statusBody struct {
	Status issue.Status `json:"status" binding:"required,oneof=pending in_progress resolved"`
}

func (s *Server) handleIssueSetStatus(c *gin.Context) {
	who := identity(c)
	if who.Role == user.RoleCitizen {
		fail(c, http.StatusForbidden, "forbidden", "Citizens cannot change issue status")
		return
	}

	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failValidation(c, err)
		return
	}

	updated, err := s.store.SetIssueStatus(pathID(c), body.Status)
	switch {
	case errors.Is(err, issue.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "Issue not found")
	case errors.Is(err, ErrBadTransition):
		fail(c, http.StatusConflict, "invalid_transition", "That status change is not allowed")
	case err != nil:
		fail(c, http.StatusInternalServerError, "internal_error", "could not update issue")
	default:
		c.JSON(http.StatusOK, updated)
	}
}

func (s *Server) handleVote(c *gin.Context) {
	voted, err := s.store.Vote(pathID(c), identity(c).ID)
	switch {
	case errors.Is(err, issue.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "Issue not found")
	case errors.Is(err, ErrAlreadyVoted):
		fail(c, http.StatusConflict, "already_voted", "You have already voted for this issue")
	case err != nil:
		fail(c, http.StatusInternalServerError, "internal_error", "could not record vote")
	default:
		c.JSON(http.StatusOK, voted)
	}
}

func (s *Server) handleUnvote(c *gin.Context) {
	unvoted, err := s.store.Unvote(pathID(c), identity(c).ID)
	switch {
	case errors.Is(err, issue.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "Issue not found")
	case errors.Is(err, ErrVoteNotFound):
		fail(c, http.StatusNotFound, "vote_not_found", "You have not voted for this issue")
	case err != nil:
		fail(c, http.StatusInternalServerError, "internal_error", "could not remove vote")
	default:
		c.JSON(http.StatusOK, unvoted)
	}
}

// ---- assignment handlers

func (s *Server) handleAssignmentCreate(c *gin.Context) {
	who := identity(c)
	if who.Role != user.RoleSupervisor && who.Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "Only supervisors and admins create assignments")
		return
	}

	var req assignment.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, err)
		return
	}

	created, err := s.store.CreateAssignment(req.IssueID, req.StaffID, who.ID, req.Notes)
	switch {
	case errors.Is(err, issue.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "Issue not found")
	case errors.Is(err, user.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "Staff member not found")
	case errors.Is(err, ErrNotStaff):
		fail(c, http.StatusBadRequest, "not_staff", "Assignee must hold the staff role")
	case errors.Is(err, ErrAlreadyAssigned):
		fail(c, http.StatusConflict, "issue_already_assigned", "Issue already has an active assignment")
	case errors.Is(err, ErrBadTransition):
		fail(c, http.StatusConflict, "issue_closed", "A resolved issue cannot be assigned")
	case err != nil:
		fail(c, http.StatusInternalServerError, "internal_error", "could not create assignment")
	default:
		c.JSON(http.StatusCreated, created)
	}
}

func (s *Server) handleAssignmentList(c *gin.Context) {
	var issueID int64
	if raw := c.Query("issue_id"); raw != "" {
		issueID, _ = strconv.ParseInt(raw, 10, 64)
	}

	items := s.store.ListAssignments(c.Query("staff_id"), issueID, c.Query("active") == "true")
	c.JSON(http.StatusOK, gin.H{"assignments": items})
}

func (s *Server) handleAssignmentMine(c *gin.Context) {
	items := s.store.ListAssignments(identity(c).ID, 0, false)
	c.JSON(http.StatusOK, gin.H{"assignments": items})
}

func (s *Server) handleAssignmentGet(c *gin.Context) {
	got, err := s.store.GetAssignment(pathID(c))
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "Assignment not found")
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *Server) handleAssignmentUpdate(c *gin.Context) {
	var req assignment.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, err)
		return
	}

	id := pathID(c)

	current, err := s.store.GetAssignment(id)
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "Assignment not found")
		return
	}

	who := identity(c)
	if who.Role != user.RoleAdmin && current.AssigneeID != who.ID {
		fail(c, http.StatusForbidden, "forbidden", "Only the assignee can update this assignment")
		return
	}

	updated, err := s.store.SetAssignmentStatus(id, req.Status, req.Notes)
	switch {
	case errors.Is(err, ErrBadTransition):
		fail(c, http.StatusConflict, "invalid_transition", "That status change is not allowed")
	case err != nil:
		fail(c, http.StatusInternalServerError, "internal_error", "could not update assignment")
	default:
		c.JSON(http.StatusOK, updated)
	}
}

func (s *Server) handleAssignmentDelete(c *gin.Context) {
	who := identity(c)
	if who.Role != user.RoleSupervisor && who.Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "Only supervisors and admins cancel assignments")
		return
	}

	if err := s.store.DeleteAssignment(pathID(c)); err != nil {
		fail(c, http.StatusNotFound, "not_found", "Assignment not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "assignment cancelled"})
}

// ---- update handlers

func (s *Server) handleUpdateCreate(c *gin.Context) {
	var req update.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, err)
		return
	}

	who := identity(c)
	switch who.Role {
	case user.RoleCitizen:
		fail(c, http.StatusForbidden, "forbidden", "Citizens cannot post progress updates")
		return
	case user.RoleStaff:
		// staff may only report on work routed to them
		if !s.store.HasAssignmentFor(req.IssueID, who.ID) {
			fail(c, http.StatusForbidden, "forbidden", "You are not assigned to this issue")
			return
		}
	}

	created, err := s.store.AppendUpdate(req.IssueID, who.ID, req.Text, req.Terminal)
	if errors.Is(err, issue.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "Issue not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "could not append update")
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateDelete(c *gin.Context) {
	id := pathID(c)

	got, err := s.store.GetUpdate(id)
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "Update not found")
		return
	}

	who := identity(c)
	if who.Role != user.RoleAdmin && got.AuthorID != who.ID {
		fail(c, http.StatusForbidden, "forbidden", "Only the author can delete this update")
		return
	}

	if err := s.store.DeleteUpdate(id); err != nil {
		fail(c, http.StatusNotFound, "not_found", "Update not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "update deleted"})
}

func (s *Server) handleUpdateList(c *gin.Context) {
	page := intQuery(c, "page", 1)
	per := intQuery(c, "per_page", 50)

	items, total := s.store.ListUpdates(pathID(c), page, per)
	c.JSON(http.StatusOK, gin.H{
		"updates":    items,
		"pagination": paginate(total, page, per),
	})
}

// ---- user handlers

func (s *Server) handleUserList(c *gin.Context) {
	if identity(c).Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "Admin only")
		return
	}

	items := s.store.ListUsers(user.Role(c.Query("role")), c.Query("department"))
	c.JSON(http.StatusOK, gin.H{"users": items})
}

func (s *Server) handleStaffList(c *gin.Context) {
	who := identity(c)
	if who.Role != user.RoleSupervisor && who.Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "Supervisors and admins only")
		return
	}

	items := s.store.ListUsers(user.RoleStaff, c.Query("department"))
	c.JSON(http.StatusOK, gin.H{"users": items})
}

func (s *Server) handleUserGet(c *gin.Context) {
	got, err := s.store.GetUser(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "User not found")
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *Server) handleUserUpdate(c *gin.Context) {
	id := c.Param("id")

	who := identity(c)
	if who.ID != id && who.Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "You can only edit your own profile")
		return
	}

	var req user.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, err)
		return
	}

	updated, err := s.store.UpdateUser(id, func(u *user.User) {
		if req.FullName != "" {
			u.FullName = req.FullName
		}
		if req.Phone != "" {
			u.Phone = req.Phone
		}
		if req.Department != "" {
			u.Department = req.Department
		}
	})
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "User not found")
		return
	}
	c.JSON(http.StatusOK, updated)
}

type changeRoleBody struct {
	Role       user.Role `json:"role" binding:"required,oneof=citizen staff supervisor admin"`
	Department string    `json:"department" binding:"omitempty,max=50"`
}

func (s *Server) handleChangeRole(c *gin.Context) {
	if identity(c).Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "Admin only")
		return
	}

	var body changeRoleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failValidation(c, err)
		return
	}

	updated, err := s.store.UpdateUser(c.Param("id"), func(u *user.User) {
		u.Role = body.Role
		if body.Department != "" {
			u.Department = body.Department
		}
	})
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "User not found")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleWorkload(c *gin.Context) {
	who := identity(c)
	if who.Role != user.RoleSupervisor && who.Role != user.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "Supervisors and admins only")
		return
	}

	id := c.Param("id")
	if _, err := s.store.GetUser(id); err != nil {
		fail(c, http.StatusNotFound, "not_found", "User not found")
		return
	}

	c.JSON(http.StatusOK, s.store.Workload(id))
}

// ---- dashboard

func (s *Server) handleDashboard(c *gin.Context) {
	byStatus, byCategory, upvotes, byRole, asn, totalUpdates := s.store.Stats()

	totalIssues := byStatus["pending"] + byStatus["in_progress"] + byStatus["resolved"]
	totalUsers := byRole["citizen"] + byRole["staff"] + byRole["supervisor"] + byRole["admin"]

	c.JSON(http.StatusOK, gin.H{
		"issue_stats": gin.H{
			"total_issues":       totalIssues,
			"pending_issues":     byStatus["pending"],
			"in_progress_issues": byStatus["in_progress"],
			"resolved_issues":    byStatus["resolved"],
			"issues_by_category": byCategory,
			"total_upvotes":      upvotes,
		},
		"user_stats": gin.H{
			"total_users": totalUsers,
			"citizens":    byRole["citizen"],
			"staff":       byRole["staff"],
			"supervisors": byRole["supervisor"],
			"admins":      byRole["admin"],
		},
		"system_stats": gin.H{
			"total_assignments":     asn["active"] + asn["completed"],
			"active_assignments":    asn["active"],
			"completed_assignments": asn["completed"],
			"total_updates":         totalUpdates,
		},
	})
}

// ---- small helpers

func pathID(c *gin.Context) int64 {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return id
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func paginate(total, page, per int) issue.Pagination {
	if page < 1 {
		page = 1
	}
	if per < 1 {
		per = 20
	}

	pages := (total + per - 1) / per

	return issue.Pagination{
		Total:      total,
		Page:       page,
		PerPage:    per,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1 && total > 0,
	}
}
