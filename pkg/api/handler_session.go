package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	echo "github.com/labstack/echo/v5"

	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/judge"
	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/pipeline"
	"github.com/elisa-build/elisa/pkg/session"
	"github.com/elisa-build/elisa/pkg/spec"
	"github.com/elisa-build/elisa/pkg/teach"
	"github.com/elisa-build/elisa/pkg/testrun"
	"github.com/elisa-build/elisa/pkg/tools"
	"github.com/elisa-build/elisa/pkg/vcs"
	"github.com/elisa-build/elisa/pkg/workspace"
)

// CreateSessionRequest starts a build run.
type CreateSessionRequest struct {
	Spec          map[string]any `json:"spec"`
	WorkspacePath string         `json:"workspace_path"`
	RestartMode   string         `json:"restart_mode"`
}

// createSessionHandler handles POST /api/session: parse the spec, set up
// the workspace and event bus, and launch the pipeline.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ps, err := spec.Parse(req.Spec)
	if err != nil {
		return mapServiceError(err)
	}

	mode := session.RestartContinue
	if req.RestartMode == string(session.RestartClean) {
		mode = session.RestartClean
	}

	client, err := llm.Shared(s.cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	sess := session.New(ps, "", mode, req.WorkspacePath != "", nil)

	workspaceDir := req.WorkspacePath
	if workspaceDir != "" {
		workspaceDir, err = workspace.ValidateUnder(s.cfg.WorkspaceRoot, workspaceDir)
		if err != nil {
			return mapServiceError(err)
		}
	} else {
		workspaceDir = filepath.Join(s.cfg.WorkspaceRoot, "elisa-builds", sess.ID)
	}
	sess.WorkspaceDir = workspaceDir

	ws, err := workspace.NewManager(workspaceDir)
	if err != nil {
		return mapServiceError(err)
	}
	if err := ws.Provision(); err != nil {
		return mapServiceError(err)
	}

	sess.Bus = events.NewBus(sess.ID, s.openSessionLog(sess, ws))
	s.store.Add(sess)

	ctrl := pipeline.NewController(pipeline.Deps{
		Config:    s.cfg,
		Session:   sess,
		Workspace: ws,
		Client:    client,
		Sandbox:   tools.NewSandbox(ws, s.cfg.BashTimeout),
		Store:     vcs.NewGitStore(),
		Runner:    testrun.NewPytestRunner(),
		Memory:    s.memory,
		Judge:     judge.New(s.cfg.JudgeMinScore),
		Teacher:   teach.NewEngine(client, s.cfg.FallbackModel),
	})
	s.mu.Lock()
	s.controllers[sess.ID] = ctrl
	s.mu.Unlock()

	go ctrl.Run(context.Background())

	slog.Info("Session created", "session_id", sess.ID, "workspace", workspaceDir)
	return c.JSON(http.StatusOK, map[string]string{"session_id": sess.ID})
}

// openSessionLog attaches a JSON line logger over the session log file.
// Returns nil when the file cannot be opened; the run proceeds unlogged.
func (s *Server) openSessionLog(sess *session.Session, ws *workspace.Manager) *slog.Logger {
	f, err := os.OpenFile(ws.LogPath(sess.ID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Failed to open session log", "session_id", sess.ID, "error", err)
		return nil
	}
	sess.SetLogCloser(f)
	return slog.New(slog.NewJSONHandler(f, nil))
}

// cancelSessionHandler handles POST /api/session/:id/cancel. Idempotent.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	sess.Cancel()
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

// GateRequest resolves a pending human gate.
type GateRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// gateHandler handles POST /api/session/:id/gate. Answering with no gate
// pending is accepted and ignored.
func (s *Server) gateHandler(c *echo.Context) error {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	var req GateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess.AnswerGate(session.GateAnswer{Approved: req.Approved, Feedback: req.Feedback})
	return c.JSON(http.StatusOK, map[string]string{"status": "answered"})
}

// AnswerRequest resolves pending agent questions for a task.
type AnswerRequest struct {
	TaskID  string            `json:"task_id"`
	Answers map[string]string `json:"answers"`
}

// answerHandler handles POST /api/session/:id/answer.
func (s *Server) answerHandler(c *echo.Context) error {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TaskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}
	sess.AnswerQuestion(req.TaskID, req.Answers)
	return c.JSON(http.StatusOK, map[string]string{"status": "answered"})
}
