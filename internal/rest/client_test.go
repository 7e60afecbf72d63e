package rest

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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticTokens struct {
	token string
}

func (s staticTokens) Token() (string, bool) {
	return s.token, s.token != ""
}

func TestDoDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"already_voted","message":"You have already voted for this issue"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())

	err := c.Do(context.Background(), "issue.vote", http.MethodPost, "/api/issues/1/vote", nil, nil, nil)
	if !errors.Is(err, apierr.ErrDuplicateVote) {
		t.Fatalf("err = %v, want duplicate vote conflict", err)
	}
}

func TestDoHidesServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("goroutine 42 [running]: secret internals"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())

	err := c.Do(context.Background(), "issue.get", http.MethodGet, "/api/issues/1", nil, nil, nil)

	var e *apierr.Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *apierr.Error", err)
	}
	if e.Kind != apierr.KindServer {
		t.Errorf("kind = %s, want server_error", e.Kind)
	}
	if e.Message == "" || e.Message == "goroutine 42 [running]: secret internals" {
		t.Errorf("message leaked or empty: %q", e.Message)
	}
}

func TestDoInvokesAuthFailureHookOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_token","message":"expired"}}`))
	}))
	defer srv.Close()

	var dropped bool
	c := NewClient(srv.URL, time.Second, testLogger(),
		WithAuthFailureHook(func() { dropped = true }))

	err := c.Do(context.Background(), "auth.me", http.MethodGet, "/api/auth/me", nil, nil, nil)
	if !errors.Is(err, apierr.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if !dropped {
		t.Error("401 should have invoked the auth failure hook")
	}
}

func TestDoNoHookOnOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var dropped bool
	c := NewClient(srv.URL, time.Second, testLogger(),
		WithAuthFailureHook(func() { dropped = true }))

	_ = c.Do(context.Background(), "issue.get", http.MethodGet, "/api/issues/9", nil, nil, nil)
	if dropped {
		t.Error("non-401 must not drop the session")
	}
}

func TestDoMapsTransportFailureToNetworkError(t *testing.T) {
	// a server that is already closed refuses connections
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())

	err := c.Do(context.Background(), "issue.list", http.MethodGet, "/api/issues", nil, nil, nil)
	if !errors.Is(err, apierr.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
}

func TestDoPassesThroughCallerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.Do(ctx, "issue.list", http.MethodGet, "/api/issues", nil, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled untouched", err)
	}
}

func TestDoAttachesBearerAndRequestID(t *testing.T) {
	var gotAuth, gotReqID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-Id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger(),
		WithTokenSource(staticTokens{token: "tok-123"}))

	var out struct{}
	if err := c.Do(context.Background(), "auth.me", http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotReqID == "" {
		t.Error("X-Request-Id missing")
	}
}

func TestDoSkipsBearerWithoutLiveToken(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger(),
		WithTokenSource(staticTokens{}))

	_ = c.Do(context.Background(), "auth.login", http.MethodPost, "/api/auth/login", nil, nil, nil)
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want no header when the token source is empty", gotAuth)
	}
}

func TestQueryDropsEmptyValues(t *testing.T) {
	q := Query("status", "pending", "category", "", "mine", "true")

	if q.Get("status") != "pending" || q.Get("mine") != "true" {
		t.Errorf("query = %v, missing set values", q)
	}
	if _, ok := q["category"]; ok {
		t.Error("empty values should be dropped")
	}
}
