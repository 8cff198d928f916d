package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/config"
	"github.com/elisa-build/elisa/pkg/session"
	"github.com/elisa-build/elisa/pkg/spec"
)

func newTestServer(t *testing.T, authToken string) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		WorkspaceRoot: root,
		AuthToken:     authToken,
	}
	store := session.NewStore(time.Hour, time.Minute)
	t.Cleanup(store.Stop)
	return NewServer(cfg, store, nil), root
}

// doJSON runs one request through the router and decodes the JSON reply.
func doJSON(t *testing.T, s *Server, method, target string, body any, header http.Header) (int, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var doc map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc),
			"body was not JSON: %s", rec.Body.String())
	}
	return rec.Code, doc
}

func addSession(t *testing.T, s *Server) *session.Session {
	t.Helper()
	ps, err := spec.Parse(map[string]any{"goal": "test goal"})
	require.NoError(t, err)
	sess := session.New(ps, t.TempDir(), session.RestartContinue, false, nil)
	s.store.Add(sess)
	return sess
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t, "")

	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789abcdefghij")
	code, doc := doJSON(t, s, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "valid", doc["apiKey"])

	t.Setenv("OPENAI_API_KEY", "")
	code, doc = doJSON(t, s, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "missing", doc["apiKey"])
	assert.Equal(t, "offline", doc["status"])

	t.Setenv("OPENAI_API_KEY", "short")
	code, doc = doJSON(t, s, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "invalid", doc["apiKey"])
}

func TestWorkspaceSaveLoadRoundTrip(t *testing.T) {
	s, root := newTestServer(t, "")
	path := filepath.Join(root, "proj1")

	code, doc := doJSON(t, s, http.MethodPost, "/api/workspace/save", map[string]any{
		"workspace_path": path,
		"workspace_json": map[string]any{"goal": "night lamp"},
		"skills":         []any{map[string]any{"name": "pwm", "prompt": "use pwm"}},
	}, nil)
	require.Equal(t, http.StatusOK, code, "save failed: %v", doc)
	assert.Equal(t, "saved", doc["status"])

	code, doc = doJSON(t, s, http.MethodPost, "/api/workspace/load", map[string]any{
		"workspace_path": path,
	}, nil)
	require.Equal(t, http.StatusOK, code)

	ws, _ := doc["workspace"].(map[string]any)
	assert.Equal(t, "night lamp", ws["goal"])
	skills, _ := doc["skills"].([]any)
	require.Len(t, skills, 1)
	// Never-saved documents come back as empty objects, not nulls.
	assert.Equal(t, map[string]any{}, doc["portals"])
	assert.Equal(t, map[string]any{}, doc["rules"])
}

func TestWorkspaceHandlers_RejectPathOutsideRoot(t *testing.T) {
	s, _ := newTestServer(t, "")
	outside := t.TempDir()

	for _, target := range []string{"/api/workspace/save", "/api/workspace/load", "/api/workspace/inspect"} {
		code, doc := doJSON(t, s, http.MethodPost, target, map[string]any{
			"workspace_path": outside,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.Contains(t, doc["message"], "outside the allowed workspace root")
	}
}

func TestWorkspaceHandlers_RequirePath(t *testing.T) {
	s, _ := newTestServer(t, "")

	code, doc := doJSON(t, s, http.MethodPost, "/api/workspace/load", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, doc["message"], "workspace_path is required")
}

func TestWorkspaceInspectHandler(t *testing.T) {
	s, root := newTestServer(t, "")

	code, doc := doJSON(t, s, http.MethodPost, "/api/workspace/inspect", map[string]any{
		"workspace_path": filepath.Join(root, "never-created"),
	}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, doc["exists"])
	assert.Equal(t, true, doc["is_empty"])
}

func TestWorkspaceResetHandler(t *testing.T) {
	s, root := newTestServer(t, "")
	path := filepath.Join(root, "proj1")

	code, doc := doJSON(t, s, http.MethodPost, "/api/workspace/reset", map[string]any{
		"workspace_path": path,
		"mode":           "wipe_everything",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, doc["message"], "unsupported reset mode")

	code, doc = doJSON(t, s, http.MethodPost, "/api/workspace/reset", map[string]any{
		"workspace_path": path,
		"mode":           "clean_generated",
	}, nil)
	require.Equal(t, http.StatusOK, code, "reset failed: %v", doc)
	assert.Equal(t, "reset", doc["status"])
	assert.NotNil(t, doc["removed"])
}

func TestCreateSessionHandler_RejectsSpecWithoutGoal(t *testing.T) {
	s, _ := newTestServer(t, "")

	code, doc := doJSON(t, s, http.MethodPost, "/api/session", map[string]any{
		"spec": map[string]any{"project": map[string]any{}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, doc["message"], "spec has no goal")
}

func TestSessionHandlers_UnknownSession(t *testing.T) {
	s, _ := newTestServer(t, "")

	for _, target := range []string{
		"/api/session/nope/cancel",
		"/api/session/nope/gate",
		"/api/session/nope/answer",
	} {
		code, doc := doJSON(t, s, http.MethodPost, target, map[string]any{}, nil)
		assert.Equal(t, http.StatusNotFound, code, target)
		assert.Equal(t, "session not found", doc["message"])
	}
}

func TestCancelSessionHandler(t *testing.T) {
	s, _ := newTestServer(t, "")
	sess := addSession(t, s)

	code, doc := doJSON(t, s, http.MethodPost, "/api/session/"+sess.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelling", doc["status"])
	assert.True(t, sess.Cancelled())

	// Idempotent.
	code, _ = doJSON(t, s, http.MethodPost, "/api/session/"+sess.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestGateHandler_NoGatePendingIsAccepted(t *testing.T) {
	s, _ := newTestServer(t, "")
	sess := addSession(t, s)

	code, doc := doJSON(t, s, http.MethodPost, "/api/session/"+sess.ID+"/gate", map[string]any{
		"approved": true,
		"feedback": "go ahead",
	}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "answered", doc["status"])
}

func TestAnswerHandler_RequiresTaskID(t *testing.T) {
	s, _ := newTestServer(t, "")
	sess := addSession(t, s)

	code, doc := doJSON(t, s, http.MethodPost, "/api/session/"+sess.ID+"/answer", map[string]any{
		"answers": map[string]string{"q": "a"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, doc["message"], "task_id is required")

	code, doc = doJSON(t, s, http.MethodPost, "/api/session/"+sess.ID+"/answer", map[string]any{
		"task_id": "task-1",
		"answers": map[string]string{"q": "a"},
	}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "answered", doc["status"])
}

func TestBearerAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	// The health probe stays open.
	code, _ := doJSON(t, s, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	// API routes require the token.
	code, doc := doJSON(t, s, http.MethodPost, "/api/workspace/load", map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, doc["message"], "invalid or missing token")

	code, _ = doJSON(t, s, http.MethodPost, "/api/workspace/load", map[string]any{}, http.Header{
		"Authorization": []string{"Bearer wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	// A valid token reaches the handler, which then rejects the empty body.
	code, doc = doJSON(t, s, http.MethodPost, "/api/workspace/load", map[string]any{}, http.Header{
		"Authorization": []string{"Bearer secret"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, doc["message"], "workspace_path is required")

	// The WebSocket route accepts the token as a query parameter; auth
	// passes and the unknown session is reported instead.
	code, _ = doJSON(t, s, http.MethodGet, "/ws/session/nope", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, doc = doJSON(t, s, http.MethodGet, "/ws/session/nope?token=secret", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "session not found", doc["message"])
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
