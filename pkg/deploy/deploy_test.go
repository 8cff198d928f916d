package deploy

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/spec"
)

func parseSpec(t *testing.T, doc map[string]any) *spec.ProjectSpec {
	t.Helper()
	doc["goal"] = "test goal"
	ps, err := spec.Parse(doc)
	require.NoError(t, err)
	return ps
}

func TestDeployPredicates(t *testing.T) {
	preview := parseSpec(t, map[string]any{})
	assert.False(t, ShouldDeployWeb(preview))
	assert.False(t, ShouldDeployHardware(preview))
	assert.False(t, ShouldDeployPortals(preview))
	assert.False(t, ShouldInitializePortals(preview))

	web := parseSpec(t, map[string]any{
		"deployment": map[string]any{"target": "web"},
	})
	assert.True(t, ShouldDeployWeb(web))
	assert.False(t, ShouldDeployHardware(web))

	// Hardware needs both the target and the auto-flash opt-in.
	esp := parseSpec(t, map[string]any{
		"deployment": map[string]any{"target": "esp32"},
	})
	assert.False(t, ShouldDeployHardware(esp))
	flashed := parseSpec(t, map[string]any{
		"deployment": map[string]any{"target": "esp32", "auto_flash": true},
	})
	assert.True(t, ShouldDeployHardware(flashed))
	assert.False(t, ShouldDeployWeb(flashed))

	both := parseSpec(t, map[string]any{
		"deployment": map[string]any{"target": "both", "auto_flash": true},
	})
	assert.True(t, ShouldDeployWeb(both))
	assert.True(t, ShouldDeployHardware(both))
}

func TestPortalPredicates(t *testing.T) {
	serial := parseSpec(t, map[string]any{
		"portals": []any{map[string]any{"name": "board", "kind": "serial"}},
	})
	assert.True(t, ShouldDeployPortals(serial))
	assert.False(t, ShouldInitializePortals(serial))

	mcp := parseSpec(t, map[string]any{
		"portals": []any{
			map[string]any{"name": "board", "kind": "serial"},
			map[string]any{"name": "weather", "kind": "mcp"},
		},
	})
	assert.True(t, ShouldDeployPortals(mcp))
	assert.True(t, ShouldInitializePortals(mcp))
}

// fakeHandle counts closes and can simulate a stuck device.
type fakeHandle struct {
	kind string
	err  error

	mu     sync.Mutex
	closed int
}

func (h *fakeHandle) Kind() string { return h.kind }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return h.err
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func TestManager_CloseKind(t *testing.T) {
	m := NewManager()
	web := &fakeHandle{kind: KindWeb}
	serial1 := &fakeHandle{kind: KindSerial}
	serial2 := &fakeHandle{kind: KindSerial, err: errors.New("device stuck")}
	m.Track(web)
	m.Track(serial1)
	m.Track(serial2)

	// Closes every serial handle, swallowing the stuck one, and leaves
	// the web preview running.
	m.CloseKind(KindSerial)
	assert.Equal(t, 1, serial1.closeCount())
	assert.Equal(t, 1, serial2.closeCount())
	assert.Equal(t, 0, web.closeCount())

	// Already-closed handles are forgotten.
	m.CloseKind(KindSerial)
	assert.Equal(t, 1, serial1.closeCount())
}

func TestManager_Teardown(t *testing.T) {
	m := NewManager()
	web := &fakeHandle{kind: KindWeb}
	serial := &fakeHandle{kind: KindSerial, err: errors.New("device stuck")}
	m.Track(web)
	m.Track(serial)

	m.Teardown()
	assert.Equal(t, 1, web.closeCount())
	assert.Equal(t, 1, serial.closeCount())

	// Idempotent on an emptied manager.
	m.Teardown()
	assert.Equal(t, 1, web.closeCount())
}

func TestWebServer_CloseWithoutProcess(t *testing.T) {
	w := &WebServer{URL: "http://localhost:0"}
	assert.NoError(t, w.Close())
	assert.Equal(t, KindWeb, w.Kind())
}
