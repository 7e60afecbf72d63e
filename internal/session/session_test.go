package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/cache"
	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/civicpulse/engine/internal/rest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authJSON(role string) string {
	return `{"access_token":"tok-live","token_type":"bearer","user":{"id":"u-1","email":"a@b.c","role":"` + role + `"}}`
}

func newManager(t *testing.T, handler http.Handler) (*Manager, *cache.Cache, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := cache.New(time.Hour)
	client := rest.NewClient(srv.URL, time.Second, testLogger())
	mgr := NewManager(client, store, time.Hour, testLogger())

	return mgr, store, srv
}

func TestLoginStoresSession(t *testing.T) {
	mgr, _, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(authJSON("citizen")))
	}))

	s, err := mgr.Login(context.Background(), "a@b.c", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if s.UserID != "u-1" || s.Role != user.RoleCitizen {
		t.Errorf("session = %+v", s)
	}
	if mgr.IsExpired() {
		t.Error("fresh session should not be expired")
	}

	if tok, ok := mgr.Token(); !ok || tok != "tok-live" {
		t.Errorf("Token() = %q, %v", tok, ok)
	}
}

func TestLoginRejectsMalformedInputLocally(t *testing.T) {
	var hits int
	mgr, _, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	_, err := mgr.Login(context.Background(), "not-an-email", "pw")
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if hits != 0 {
		t.Error("invalid input must not reach the network")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	mgr, _, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_credentials","message":"Email or password is incorrect"}}`))
	}))

	_, err := mgr.Login(context.Background(), "a@b.c", "wrong1")
	if !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if _, ok := mgr.Current(); ok {
		t.Error("failed login must not leave a session behind")
	}
}

func TestRegisterRequiresLetterInPassword(t *testing.T) {
	var hits int
	mgr, _, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	_, err := mgr.Register(context.Background(), RegisterRequest{
		Email:    "a@b.c",
		Password: "123456",
		FullName: "A B",
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if hits != 0 {
		t.Error("rejected password must not reach the network")
	}
}

func TestExpiredSessionRejectedLocally(t *testing.T) {
	var hits int
	mgr, _, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			_, _ = w.Write([]byte(authJSON("staff")))
			return
		}
		hits++
	}))

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// jump past the TTL
	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if !mgr.IsExpired() {
		t.Fatal("session should read as expired")
	}

	if _, err := mgr.RequireLive(); !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("RequireLive = %v, want auth error", err)
	}

	if tok, ok := mgr.Token(); ok {
		t.Errorf("Token() = %q, a dead token must never be handed out", tok)
	}

	if _, err := mgr.Me(context.Background()); !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("Me = %v, want local auth error", err)
	}
	if hits != 0 {
		t.Error("expired session must be rejected before any network call")
	}
}

func TestVerifyFailsClosedWhenUnreachable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authJSON("citizen")))
	})

	mgr, _, srv := newManager(t, mux)

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	srv.Close()

	ok, role := mgr.Verify(context.Background())
	if ok || role != "" {
		t.Errorf("Verify = %v, %q; unreachable backend must read as unauthenticated", ok, role)
	}

	// fail closed, but the local session survives a transient outage
	if _, stillThere := mgr.Current(); !stillThere {
		t.Error("transient verify failure should not destroy the stored session")
	}
}

func TestVerifyDropsSessionWhenInvalid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authJSON("citizen")))
	})
	mux.HandleFunc("/api/auth/verify-token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid":false}`))
	})

	mgr, _, _ := newManager(t, mux)

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if ok, _ := mgr.Verify(context.Background()); ok {
		t.Fatal("Verify should report invalid")
	}
	if _, stillThere := mgr.Current(); stillThere {
		t.Error("an invalid token must drop the session")
	}
}

func TestVerifySyncsRoleChange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authJSON("staff")))
	})
	mux.HandleFunc("/api/auth/verify-token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"user":{"id":"u-1","role":"supervisor"}}`))
	})

	mgr, _, _ := newManager(t, mux)

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	ok, role := mgr.Verify(context.Background())
	if !ok || role != user.RoleSupervisor {
		t.Fatalf("Verify = %v, %q; want promoted role", ok, role)
	}

	s, _ := mgr.Current()
	if s.Role != user.RoleSupervisor {
		t.Errorf("stored role = %s, want supervisor", s.Role)
	}
}

func TestLogoutClearsEverythingEvenWhenRemoteFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authJSON("citizen")))
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mgr, store, _ := newManager(t, mux)

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	store.Set("issues/list?page=1", "cached", time.Minute)

	mgr.Logout(context.Background())

	if _, ok := mgr.Current(); ok {
		t.Error("logout must clear the session")
	}
	if store.Len() != 0 {
		t.Errorf("cache holds %d entries after logout, want 0", store.Len())
	}
}

func TestBackend401DropsOnlySession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authJSON("citizen")))
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_token","message":"revoked"}}`))
	})

	mgr, store, _ := newManager(t, mux)

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	store.Set("issues/1", "cached", time.Minute)

	if _, err := mgr.Me(context.Background()); !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("Me = %v, want auth error", err)
	}

	if _, ok := mgr.Current(); ok {
		t.Error("a server-side 401 must drop the session")
	}
	if _, ok := store.Get("issues/1"); !ok {
		t.Error("a 401 clears the session slot, not unrelated cache entries")
	}
}

func TestResumeProvesTokenRemotely(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer saved-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-9","role":"supervisor"}`))
	})

	mgr, _, _ := newManager(t, mux)

	s, err := mgr.Resume(context.Background(), "saved-tok")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.UserID != "u-9" || s.Role != user.RoleSupervisor {
		t.Errorf("session = %+v", s)
	}
}

func TestResumeRejectsDeadToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_token","message":"revoked"}}`))
	})

	mgr, _, _ := newManager(t, mux)

	if _, err := mgr.Resume(context.Background(), "stale-tok"); !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if _, ok := mgr.Current(); ok {
		t.Error("failed resume must leave the engine anonymous")
	}
}

func TestRefreshFailureDropsToAnonymous(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(authJSON("citizen")))
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mgr, _, _ := newManager(t, mux)

	if _, err := mgr.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := mgr.Refresh(context.Background()); !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("Refresh = %v, want auth error", err)
	}
	if _, ok := mgr.Current(); ok {
		t.Error("failed refresh must not leave a half-live session")
	}
}
