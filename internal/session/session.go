package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/civicpulse/engine/internal/rest"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// Session is the sole source of role identity for the whole engine. No other
// component caches the role independently.
type Session struct {
	Token     string
	UserID    string
	Role      user.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// cacheSlot is the one fixed key the session lives under; it is also the
// only durable client-side state the engine keeps.
const cacheSlot = "session/current"

type Manager struct {
	client   *rest.Client
	store    *cache.Cache
	log      *slog.Logger
	validate *validator.Validate
	tokenTTL time.Duration
	now      func() time.Time
}

func NewManager(client *rest.Client, store *cache.Cache, tokenTTL time.Duration, log *slog.Logger) *Manager {
	v := validator.New(validator.WithRequiredStructEnabled())
	// reuse the same binding tags gin reads server-side
	v.SetTagName("binding")

	m := &Manager{
		client:   client,
		store:    store,
		log:      log,
		validate: v,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}

	// The transport feeds on us for bearer tokens and tells us about 401s.
	client.SetTokenSource(m)
	client.SetAuthFailureHook(m.dropSession)

	return m
}

// Token implements rest.TokenSource. A dead token is never sent.
func (m *Manager) Token() (string, bool) {
	s, ok := m.Current()
	if !ok || m.expired(s) {
		return "", false
	}
	return s.Token, true
}

func (m *Manager) Current() (Session, bool) {
	v, ok := m.store.Get(cacheSlot)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}

// IsExpired is pure over the stored expiry; no session counts as expired.
func (m *Manager) IsExpired() bool {
	s, ok := m.Current()
	if !ok {
		return true
	}
	return m.expired(s)
}

func (m *Manager) expired(s Session) bool {
	return !m.now().Before(s.ExpiresAt)
}

// RequireLive is the local pre-flight other components run before touching
// the network, so a dead token never turns into a request.
func (m *Manager) RequireLive() (Session, error) {
	s, ok := m.Current()
	if !ok || m.expired(s) {
		return Session{}, apierr.Auth("Your session has expired. Please sign in again.")
	}
	return s, nil
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6,max=100"`
	FullName   string `json:"full_name" binding:"required,max=100"`
	Phone      string `json:"phone,omitempty" binding:"omitempty,max=20"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty" binding:"omitempty,max=50"`
}

type authResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        user.User `json:"user"`
}

func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	req := LoginRequest{Email: email, Password: password}

	if err := m.validate.Struct(req); err != nil {
		return Session{}, apierr.Validation("Email and password are required.", err.Error())
	}

	var resp authResponse
	err := m.client.Do(ctx, "auth.login", http.MethodPost, "/api/auth/login", nil, req, &resp)
	if err != nil {
		return Session{}, err
	}

	return m.adopt(resp), nil
}

// Register creates an account and signs in. Staff-facing consoles send
// display-name roles; citizens send none.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	if err := m.validate.Struct(req); err != nil {
		return Session{}, apierr.Validation("Registration details are incomplete or malformed.", err.Error())
	}
	if !strings.ContainsFunc(req.Password, isLetter) {
		return Session{}, apierr.Validation("Password must contain at least one letter.", nil)
	}

	role := user.MapConsoleRole(req.Role)
	req.Role = string(role)
	if req.Department == "" && (role == user.RoleStaff || role == user.RoleSupervisor) {
		req.Department = "Public Works"
	}

	var resp authResponse
	err := m.client.Do(ctx, "auth.register", http.MethodPost, "/api/auth/register", nil, req, &resp)
	if err != nil {
		return Session{}, err
	}

	return m.adopt(resp), nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// adopt turns a backend auth response into the authenticated state. Expiry
// comes from the token's exp claim when it carries one; the configured TTL
// is the fallback.
func (m *Manager) adopt(resp authResponse) Session {
	now := m.now()

	s := Session{
		Token:     resp.AccessToken,
		UserID:    resp.User.ID,
		Role:      resp.User.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.tokenTTL),
	}

	if exp, ok := tokenExpiry(resp.AccessToken); ok {
		s.ExpiresAt = exp
	}

	m.store.Set(cacheSlot, s, s.ExpiresAt.Sub(now))
	return s
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client holds no key, and the backend re-checks every call anyway.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// Resume adopts a previously issued token, e.g. one a CLI kept on disk.
// The token is provisionally stored, then proven against the backend; a
// token that does not verify leaves the engine anonymous.
func (m *Manager) Resume(ctx context.Context, token string) (Session, error) {
	now := m.now()

	s := Session{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.tokenTTL),
	}
	if exp, ok := tokenExpiry(token); ok {
		s.ExpiresAt = exp
	}
	if m.expired(s) {
		return Session{}, apierr.Auth("Your session has expired. Please sign in again.")
	}

	m.store.Set(cacheSlot, s, s.ExpiresAt.Sub(now))

	u, err := m.Me(ctx)
	if err != nil {
		m.dropSession()
		return Session{}, apierr.Auth("Your saved session is no longer valid. Please sign in again.")
	}

	s.UserID = u.ID
	s.Role = u.Role
	m.store.Set(cacheSlot, s, s.ExpiresAt.Sub(m.now()))

	return s, nil
}

type verifyResponse struct {
	Valid bool       `json:"valid"`
	User  *user.User `json:"user,omitempty"`
}

// Verify asks the backend whether the token still stands. An unreachable
// backend reads as unauthenticated, never as an error (fail closed).
func (m *Manager) Verify(ctx context.Context) (bool, user.Role) {
	s, ok := m.Current()
	if !ok || m.expired(s) {
		return false, ""
	}

	var resp verifyResponse
	err := m.client.Do(ctx, "auth.verify", http.MethodPost, "/api/auth/verify-token", nil, nil, &resp)
	if err != nil {
		m.log.Debug("verify-token unreachable, treating as unauthenticated", "err", err)
		return false, ""
	}

	if !resp.Valid {
		m.dropSession()
		return false, ""
	}

	if resp.User != nil && resp.User.Role != s.Role {
		// role changed server-side; the session is the single source of truth
		s.Role = resp.User.Role
		m.store.Set(cacheSlot, s, s.ExpiresAt.Sub(m.now()))
	}

	return true, s.Role
}

// Logout invalidates remotely on a best-effort basis, then always clears
// local state. This is the one place the whole cache is swept.
func (m *Manager) Logout(ctx context.Context) {
	if _, ok := m.Current(); ok {
		if err := m.client.Do(ctx, "auth.logout", http.MethodPost, "/api/auth/logout", nil, nil, nil); err != nil {
			m.log.Debug("remote logout failed, clearing locally anyway", "err", err)
		}
	}

	m.store.ClearAll()
}

// Me fetches the caller's profile.
func (m *Manager) Me(ctx context.Context) (user.User, error) {
	if _, err := m.RequireLive(); err != nil {
		return user.User{}, err
	}

	var u user.User
	if err := m.client.Do(ctx, "auth.me", http.MethodGet, "/api/auth/me", nil, nil, &u); err != nil {
		return user.User{}, err
	}
	return u, nil
}

// Refresh either extends the authenticated state or drops to anonymous;
// there is no in-between state callers can observe.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	if _, err := m.RequireLive(); err != nil {
		return Session{}, err
	}

	var resp authResponse
	err := m.client.Do(ctx, "auth.refresh", http.MethodPost, "/api/auth/refresh", nil, nil, &resp)
	if err != nil {
		m.dropSession()
		return Session{}, apierr.Auth("Your session could not be refreshed. Please sign in again.")
	}

	return m.adopt(resp), nil
}

// dropSession clears only the session slot (the 401 path). Logout is the
// one that sweeps everything.
func (m *Manager) dropSession() {
	m.store.Clear(cacheSlot)
}
