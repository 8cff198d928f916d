package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/elisa-build/elisa/pkg/workspace"
)

// WorkspaceSaveRequest persists the design documents into a workspace.
type WorkspaceSaveRequest struct {
	WorkspacePath string          `json:"workspace_path"`
	WorkspaceJSON json.RawMessage `json:"workspace_json"`
	Skills        json.RawMessage `json:"skills"`
	Rules         json.RawMessage `json:"rules"`
	Portals       json.RawMessage `json:"portals"`
}

// workspaceSaveHandler handles POST /api/workspace/save.
func (s *Server) workspaceSaveHandler(c *echo.Context) error {
	var req WorkspaceSaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspacePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace_path is required")
	}
	root, err := workspace.ValidateUnder(s.cfg.WorkspaceRoot, req.WorkspacePath)
	if err != nil {
		return mapServiceError(err)
	}
	err = workspace.SaveDesign(root, workspace.DesignSet{
		Workspace: req.WorkspaceJSON,
		Skills:    req.Skills,
		Rules:     req.Rules,
		Portals:   req.Portals,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "saved"})
}

// WorkspacePathRequest names an existing or prospective workspace.
type WorkspacePathRequest struct {
	WorkspacePath string `json:"workspace_path"`
}

// WorkspaceLoadResponse returns the stored design documents.
type WorkspaceLoadResponse struct {
	Workspace json.RawMessage `json:"workspace"`
	Skills    json.RawMessage `json:"skills"`
	Rules     json.RawMessage `json:"rules"`
	Portals   json.RawMessage `json:"portals"`
}

// workspaceLoadHandler handles POST /api/workspace/load. Missing files
// come back as empty documents.
func (s *Server) workspaceLoadHandler(c *echo.Context) error {
	var req WorkspacePathRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspacePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace_path is required")
	}
	root, err := workspace.ValidateUnder(s.cfg.WorkspaceRoot, req.WorkspacePath)
	if err != nil {
		return mapServiceError(err)
	}
	set, err := workspace.LoadDesign(root)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &WorkspaceLoadResponse{
		Workspace: set.Workspace,
		Skills:    set.Skills,
		Rules:     set.Rules,
		Portals:   set.Portals,
	})
}

// workspaceInspectHandler handles POST /api/workspace/inspect.
func (s *Server) workspaceInspectHandler(c *echo.Context) error {
	var req WorkspacePathRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspacePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace_path is required")
	}
	root, err := workspace.ValidateUnder(s.cfg.WorkspaceRoot, req.WorkspacePath)
	if err != nil {
		return mapServiceError(err)
	}
	insp, err := workspace.Inspect(root)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, insp)
}

// WorkspaceResetRequest clears generated artifacts from a workspace.
type WorkspaceResetRequest struct {
	WorkspacePath string `json:"workspace_path"`
	Mode          string `json:"mode"`
}

// workspaceResetHandler handles POST /api/workspace/reset. Only the
// clean_generated mode exists.
func (s *Server) workspaceResetHandler(c *echo.Context) error {
	var req WorkspaceResetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspacePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace_path is required")
	}
	if req.Mode != "clean_generated" {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported reset mode: "+req.Mode)
	}
	root, err := workspace.ValidateUnder(s.cfg.WorkspaceRoot, req.WorkspacePath)
	if err != nil {
		return mapServiceError(err)
	}
	mgr, err := workspace.NewManager(root)
	if err != nil {
		return mapServiceError(err)
	}
	removed, err := mgr.Reset()
	if err != nil {
		return mapServiceError(err)
	}
	if removed == nil {
		removed = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "reset",
		"mode":    req.Mode,
		"removed": removed,
	})
}
