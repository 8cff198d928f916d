// Package deploy handles the conditional deploy phase: web preview
// processes, hardware flashing, and portal lifecycles.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/elisa-build/elisa/pkg/spec"
)

// Predicates over the session snapshot. The phase evaluates all four
// against the spec once, at deploy time.

// ShouldDeployWeb reports whether a local web preview should start.
func ShouldDeployWeb(ps *spec.ProjectSpec) bool {
	switch ps.Deployment.Target {
	case spec.DeployWeb, spec.DeployBoth:
		return true
	}
	return false
}

// ShouldDeployHardware reports whether firmware should be flashed.
func ShouldDeployHardware(ps *spec.ProjectSpec) bool {
	if !ps.Deployment.AutoFlash {
		return false
	}
	switch ps.Deployment.Target {
	case spec.DeployESP32, spec.DeployBoth:
		return true
	}
	return false
}

// ShouldDeployPortals reports whether portal connections are part of the
// deploy step.
func ShouldDeployPortals(ps *spec.ProjectSpec) bool {
	return len(ps.Portals) > 0
}

// ShouldInitializePortals reports whether portals must be connected
// before the executor, so agent tools can reach them.
func ShouldInitializePortals(ps *spec.ProjectSpec) bool {
	return ps.HasPortalKind(spec.PortalMCP)
}

// Handle is anything deploy opened that teardown must close.
type Handle interface {
	Kind() string
	Close() error
}

// Manager tracks open handles for one session.
type Manager struct {
	mu      sync.Mutex
	handles []Handle
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Track registers a handle for teardown.
func (m *Manager) Track(h Handle) {
	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
}

// CloseKind closes and forgets every handle of one kind. Errors are
// logged, never propagated; a stuck device must not fail the run.
func (m *Manager) CloseKind(kind string) {
	m.mu.Lock()
	kept := m.handles[:0]
	var closing []Handle
	for _, h := range m.handles {
		if h.Kind() == kind {
			closing = append(closing, h)
		} else {
			kept = append(kept, h)
		}
	}
	m.handles = kept
	m.mu.Unlock()

	for _, h := range closing {
		if err := h.Close(); err != nil {
			slog.Warn("Failed to close deploy handle", "kind", kind, "error", err)
		}
	}
}

// Teardown closes everything, swallowing errors.
func (m *Manager) Teardown() {
	m.mu.Lock()
	handles := m.handles
	m.handles = nil
	m.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			slog.Warn("Failed to close deploy handle", "kind", h.Kind(), "error", err)
		}
	}
}

// Handle kinds.
const (
	KindWeb    = "web"
	KindSerial = "serial"
	KindMCP    = "mcp"
)

// WebServer is a running local preview process.
type WebServer struct {
	URL string
	cmd *exec.Cmd
}

// Kind returns "web".
func (w *WebServer) Kind() string { return KindWeb }

// Close terminates the preview process.
func (w *WebServer) Close() error {
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	if err := w.cmd.Process.Kill(); err != nil {
		return err
	}
	_, _ = w.cmd.Process.Wait()
	return nil
}

// StartWebServer serves the workspace sources on a free local port and
// returns the running handle.
func StartWebServer(ctx context.Context, workspaceDir string) (*WebServer, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("deploy: finding free port: %w", err)
	}

	cmd := exec.CommandContext(ctx, "python3", "-m", "http.server", strconv.Itoa(port), "--directory", "src")
	cmd.Dir = workspaceDir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("deploy: starting web preview: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d", port)
	if err := waitReachable(ctx, port, 5*time.Second); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("deploy: web preview did not come up: %w", err)
	}
	return &WebServer{URL: url, cmd: cmd}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitReachable(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("port %d not reachable within %s", port, timeout)
}
