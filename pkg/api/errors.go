package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/elisa-build/elisa/pkg/planner"
	"github.com/elisa-build/elisa/pkg/session"
	"github.com/elisa-build/elisa/pkg/spec"
	"github.com/elisa-build/elisa/pkg/workspace"
)

// mapServiceError maps engine errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, workspace.ErrPathEscape):
		return echo.NewHTTPError(http.StatusBadRequest, "path is outside the allowed workspace root")
	case errors.Is(err, spec.ErrMissingGoal):
		return echo.NewHTTPError(http.StatusBadRequest, "spec has no goal")
	case errors.Is(err, planner.ErrPlanInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
