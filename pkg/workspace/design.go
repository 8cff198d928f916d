package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DesignSet is the user-authored project design persisted in the workspace
// root. Contents are opaque JSON; the server never interprets them.
type DesignSet struct {
	Workspace json.RawMessage `json:"workspace"`
	Skills    json.RawMessage `json:"skills"`
	Rules     json.RawMessage `json:"rules"`
	Portals   json.RawMessage `json:"portals"`
}

var designFileFor = map[string]func(*DesignSet) *json.RawMessage{
	"workspace.json": func(d *DesignSet) *json.RawMessage { return &d.Workspace },
	"skills.json":    func(d *DesignSet) *json.RawMessage { return &d.Skills },
	"rules.json":     func(d *DesignSet) *json.RawMessage { return &d.Rules },
	"portals.json":   func(d *DesignSet) *json.RawMessage { return &d.Portals },
}

// SaveDesign writes each non-nil design document to its file in root,
// creating root if needed.
func SaveDesign(root string, set DesignSet) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	for name, field := range designFileFor {
		raw := *field(&set)
		if raw == nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(root, name), raw, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// LoadDesign reads the design documents from root. Missing files yield
// empty JSON objects so the client always gets a complete set.
func LoadDesign(root string) (DesignSet, error) {
	set := DesignSet{}
	empty := json.RawMessage("{}")
	for name, field := range designFileFor {
		data, err := os.ReadFile(filepath.Join(root, name))
		if os.IsNotExist(err) {
			*field(&set) = empty
			continue
		}
		if err != nil {
			return set, fmt.Errorf("reading %s: %w", name, err)
		}
		if !json.Valid(data) {
			*field(&set) = empty
			continue
		}
		*field(&set) = json.RawMessage(data)
	}
	return set, nil
}

// ValidateUnder rejects paths that resolve outside the allowed root. An
// empty allowed root permits any absolute path.
func ValidateUnder(allowedRoot, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	abs = filepath.Clean(abs)
	if allowedRoot == "" {
		return abs, nil
	}
	rootAbs, err := filepath.Abs(allowedRoot)
	if err != nil {
		return "", fmt.Errorf("resolving allowed root: %w", err)
	}
	if !within(abs, filepath.Clean(rootAbs)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return abs, nil
}
