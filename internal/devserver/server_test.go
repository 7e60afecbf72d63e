package devserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	t   *testing.T
	url string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := New("test-secret", time.Hour, testLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &env{t: t, url: ts.URL}
}

func (e *env) do(method, path, token string, body any) (*http.Response, map[string]json.RawMessage) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, e.url+path, reader)
	if err != nil {
		e.t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	fields := map[string]json.RawMessage{}
	_ = json.Unmarshal(raw, &fields)

	return resp, fields
}

func (e *env) register(email, role string) string {
	e.t.Helper()

	resp, fields := e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":     email,
		"password":  "secret1",
		"full_name": "Test User",
		"role":      role,
	})
	if resp.StatusCode != http.StatusCreated {
		e.t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}

	var token string
	_ = json.Unmarshal(fields["access_token"], &token)
	return token
}

func errorCode(t *testing.T, fields map[string]json.RawMessage) string {
	t.Helper()

	var envlp struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(fields["error"], &envlp)
	return envlp.Code
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newEnv(t)
	e.register("dup@town.test", "")

	resp, fields := e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":     "dup@town.test",
		"password":  "secret1",
		"full_name": "Again",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "email_taken" {
		t.Errorf("code = %q", code)
	}
}

func TestVerifyTokenAlways200(t *testing.T) {
	e := newEnv(t)

	resp, fields := e.do(http.MethodPost, "/api/auth/verify-token", "garbage-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; validity travels in the body, never the status", resp.StatusCode)
	}

	var valid bool
	_ = json.Unmarshal(fields["valid"], &valid)
	if valid {
		t.Error("garbage token reported valid")
	}

	tok := e.register("v@town.test", "")
	resp, fields = e.do(http.MethodPost, "/api/auth/verify-token", tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	_ = json.Unmarshal(fields["valid"], &valid)
	if !valid {
		t.Error("fresh token reported invalid")
	}
}

func TestMissingTokenIs401Envelope(t *testing.T) {
	e := newEnv(t)

	resp, fields := e.do(http.MethodGet, "/api/issues", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "missing_token" {
		t.Errorf("code = %q", code)
	}
}

func TestDuplicateVoteEnvelope(t *testing.T) {
	e := newEnv(t)
	tok := e.register("voter@town.test", "")

	resp, fields := e.do(http.MethodPost, "/api/issues", tok, map[string]string{
		"title":       "Pothole",
		"description": "Deep one",
		"category":    "roads",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}

	var id int64
	_ = json.Unmarshal(fields["id"], &id)

	if resp, _ := e.do(http.MethodPost, fmt.Sprintf("/api/issues/%d/vote", id), tok, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first vote: %d", resp.StatusCode)
	}

	resp, fields = e.do(http.MethodPost, fmt.Sprintf("/api/issues/%d/vote", id), tok, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second vote status = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "already_voted" {
		t.Errorf("code = %q, want already_voted", code)
	}
}

func TestAssignmentFlipsPendingIssue(t *testing.T) {
	e := newEnv(t)

	citizen := e.register("cz@town.test", "")
	staffTok := e.register("st@town.test", "staff")
	supTok := e.register("sp@town.test", "supervisor")

	_, staffFields := e.do(http.MethodGet, "/api/auth/me", staffTok, nil)
	var staffID string
	_ = json.Unmarshal(staffFields["id"], &staffID)

	_, issueFields := e.do(http.MethodPost, "/api/issues", citizen, map[string]string{
		"title":       "Dark street",
		"description": "Lamp out on 5th",
		"category":    "streetlight",
	})
	var issueID int64
	_ = json.Unmarshal(issueFields["id"], &issueID)

	resp, _ := e.do(http.MethodPost, "/api/assignments", supTok, map[string]any{
		"issue_id": issueID,
		"staff_id": staffID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign: %d", resp.StatusCode)
	}

	_, got := e.do(http.MethodGet, fmt.Sprintf("/api/issues/%d", issueID), citizen, nil)
	var status string
	_ = json.Unmarshal(got["status"], &status)
	if status != "in_progress" {
		t.Errorf("status = %q, first assignment must flip pending to in_progress", status)
	}

	// second active assignment is refused atomically
	resp, fields := e.do(http.MethodPost, "/api/assignments", supTok, map[string]any{
		"issue_id": issueID,
		"staff_id": staffID,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double assign status = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "issue_already_assigned" {
		t.Errorf("code = %q", code)
	}
}

func TestAssigneeOnlyUpdatesOwnAssignment(t *testing.T) {
	e := newEnv(t)

	citizen := e.register("c9@town.test", "")
	staffA := e.register("sa@town.test", "staff")
	staffB := e.register("sb@town.test", "staff")
	supTok := e.register("sp9@town.test", "supervisor")

	_, af := e.do(http.MethodGet, "/api/auth/me", staffA, nil)
	var staffAID string
	_ = json.Unmarshal(af["id"], &staffAID)

	_, issueFields := e.do(http.MethodPost, "/api/issues", citizen, map[string]string{
		"title":       "Leak",
		"description": "Water everywhere",
		"category":    "water",
	})
	var issueID int64
	_ = json.Unmarshal(issueFields["id"], &issueID)

	_, asnFields := e.do(http.MethodPost, "/api/assignments", supTok, map[string]any{
		"issue_id": issueID,
		"staff_id": staffAID,
	})
	var asnID int64
	_ = json.Unmarshal(asnFields["id"], &asnID)

	resp, _ := e.do(http.MethodPut, fmt.Sprintf("/api/assignments/%d", asnID), staffB, map[string]string{
		"status": "in_progress",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign update status = %d, want 403", resp.StatusCode)
	}

	resp, _ = e.do(http.MethodPut, fmt.Sprintf("/api/assignments/%d", asnID), staffA, map[string]string{
		"status": "in_progress",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own update status = %d", resp.StatusCode)
	}
}

func TestUnassignedStaffCannotPostUpdates(t *testing.T) {
	e := newEnv(t)

	citizen := e.register("c10@town.test", "")
	staffTok := e.register("s10@town.test", "staff")

	_, issueFields := e.do(http.MethodPost, "/api/issues", citizen, map[string]string{
		"title":       "Graffiti",
		"description": "On the library wall",
		"category":    "other",
	})
	var issueID int64
	_ = json.Unmarshal(issueFields["id"], &issueID)

	resp, _ := e.do(http.MethodPost, "/api/updates", staffTok, map[string]any{
		"issue_id":    issueID,
		"update_text": "Looking into it",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, unassigned staff must not post updates", resp.StatusCode)
	}
}
