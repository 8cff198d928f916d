package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elisa-build/elisa/pkg/spec"
)

// Portal is a connected external-world capability (serial device, MCP
// server, CLI bridge).
type Portal interface {
	Handle
	Name() string
}

// PortalDriver opens one portal from its declaration. Drivers for real
// transports are registered by the process that owns them; tests register
// fakes.
type PortalDriver func(ctx context.Context, decl spec.Portal) (Portal, error)

var drivers = map[spec.PortalKind]PortalDriver{}

// RegisterDriver installs the driver for a portal kind, replacing any
// previous one.
func RegisterDriver(kind spec.PortalKind, driver PortalDriver) {
	drivers[kind] = driver
}

// InitPortals connects every declared portal with a registered driver and
// tracks the handles on the manager. Declarations without a driver are
// skipped with a warning; a missing transport must not fail the build.
func InitPortals(ctx context.Context, m *Manager, ps *spec.ProjectSpec) ([]Portal, error) {
	var out []Portal
	for _, decl := range ps.Portals {
		driver, ok := drivers[decl.Kind]
		if !ok {
			slog.Warn("No driver registered for portal", "portal", decl.Name, "kind", decl.Kind)
			continue
		}
		p, err := driver(ctx, decl)
		if err != nil {
			return out, fmt.Errorf("deploy: opening portal %s: %w", decl.Name, err)
		}
		m.Track(p)
		out = append(out, p)
	}
	return out, nil
}
