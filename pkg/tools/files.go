package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// toolOrder is the stable listing order for tool definitions.
var toolOrder = []string{
	"Read", "Write", "Edit", "MultiEdit", "Glob", "Grep", "LS",
	"Bash", "NotebookRead", "NotebookEdit", "AskUser",
}

// grepMaxMatches bounds Grep output.
const grepMaxMatches = 100

var registry = map[string]toolSpec{
	"Read": {
		description: "Read a file from the workspace. Returns the content with line numbers.",
		schema: `{"type":"object","properties":{
			"file_path":{"type":"string","description":"Path to the file"},
			"offset":{"type":"integer","description":"1-based line to start from"},
			"limit":{"type":"integer","description":"Maximum number of lines"}
		},"required":["file_path"]}`,
		run: runRead,
	},
	"Write": {
		description: "Write content to a file, creating parent directories as needed.",
		schema: `{"type":"object","properties":{
			"file_path":{"type":"string","description":"Path to the file"},
			"content":{"type":"string","description":"Content to write"}
		},"required":["file_path","content"]}`,
		run: runWrite,
	},
	"Edit": {
		description: "Replace an exact substring in a file.",
		schema: `{"type":"object","properties":{
			"file_path":{"type":"string","description":"Path to the file"},
			"old_string":{"type":"string","description":"Exact text to replace"},
			"new_string":{"type":"string","description":"Replacement text"}
		},"required":["file_path","old_string","new_string"]}`,
		run: runEdit,
	},
	"MultiEdit": {
		description: "Apply multiple exact replacements to one file in order. Fails atomically if any replacement does not match.",
		schema: `{"type":"object","properties":{
			"file_path":{"type":"string","description":"Path to the file"},
			"edits":{"type":"array","items":{"type":"object","properties":{
				"old_string":{"type":"string"},
				"new_string":{"type":"string"}
			},"required":["old_string","new_string"]}}
		},"required":["file_path","edits"]}`,
		run: runMultiEdit,
	},
	"Glob": {
		description: "Find files matching a glob pattern, ** supported.",
		schema: `{"type":"object","properties":{
			"pattern":{"type":"string","description":"Glob pattern, e.g. src/**/*.py"},
			"path":{"type":"string","description":"Directory to search, default workspace root"}
		},"required":["pattern"]}`,
		run: runGlob,
	},
	"Grep": {
		description: "Search file contents with a regular expression.",
		schema: `{"type":"object","properties":{
			"pattern":{"type":"string","description":"Regular expression"},
			"path":{"type":"string","description":"Directory to search, default workspace root"},
			"include":{"type":"string","description":"Glob filter on file names, e.g. *.py"}
		},"required":["pattern"]}`,
		run: runGrep,
	},
	"LS": {
		description: "List a directory.",
		schema: `{"type":"object","properties":{
			"path":{"type":"string","description":"Directory path, default workspace root"}
		}}`,
		run: runLS,
	},
	"Bash": {
		description: "Run a shell command inside the workspace. Network and environment access are blocked.",
		schema: `{"type":"object","properties":{
			"command":{"type":"string","description":"The command to run"},
			"timeout":{"type":"integer","description":"Timeout in seconds"}
		},"required":["command"]}`,
		run: runBash,
	},
	"NotebookRead": {
		description: "Read a Jupyter notebook as numbered cells.",
		schema: `{"type":"object","properties":{
			"notebook_path":{"type":"string","description":"Path to the .ipynb file"}
		},"required":["notebook_path"]}`,
		run: runNotebookRead,
	},
	"NotebookEdit": {
		description: "Replace the source of one notebook cell.",
		schema: `{"type":"object","properties":{
			"notebook_path":{"type":"string","description":"Path to the .ipynb file"},
			"cell_number":{"type":"integer","description":"0-based cell index"},
			"new_source":{"type":"string","description":"New cell source"}
		},"required":["notebook_path","cell_number","new_source"]}`,
		run: runNotebookEdit,
	},
	"AskUser": {
		description: "Ask the human operator one or more questions and wait for answers.",
		schema: `{"type":"object","properties":{
			"questions":{"type":"array","items":{"type":"string"},"description":"Questions to ask"}
		},"required":["questions"]}`,
		run: runAskUser,
	},
}

func runRead(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	abs, err := s.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	lines := strings.Split(string(data), "\n")

	start := optInt(args, "offset")
	if start < 1 {
		start = 1
	}
	limit := optInt(args, "limit")
	if limit <= 0 {
		limit = len(lines)
	}
	var b strings.Builder
	for i := start - 1; i < len(lines) && i < start-1+limit; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return b.String(), nil
}

func runWrite(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	content, err := argString(args, "content")
	if err != nil {
		return "", err
	}
	abs, err := s.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), rel), nil
}

func runEdit(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	oldStr, err := argString(args, "old_string")
	if err != nil {
		return "", err
	}
	newStr, err := argString(args, "new_string")
	if err != nil {
		return "", err
	}
	abs, err := s.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	content := string(data)
	if !strings.Contains(content, oldStr) {
		return "", fmt.Errorf("String not found in file: %s", rel)
	}
	content = strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return fmt.Sprintf("Edited %s", rel), nil
}

func runMultiEdit(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	rawEdits, ok := args["edits"].([]any)
	if !ok || len(rawEdits) == 0 {
		return "", fmt.Errorf("missing required parameter: edits")
	}
	abs, err := s.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}

	// All edits validate against the evolving content before anything is
	// written, so a failed match leaves the file untouched.
	content := string(data)
	for i, raw := range rawEdits {
		edit, ok := raw.(map[string]any)
		if !ok {
			return "", fmt.Errorf("edit %d is not an object", i+1)
		}
		oldStr, err := argString(edit, "old_string")
		if err != nil {
			return "", fmt.Errorf("edit %d: %w", i+1, err)
		}
		newStr, err := argString(edit, "new_string")
		if err != nil {
			return "", fmt.Errorf("edit %d: %w", i+1, err)
		}
		if !strings.Contains(content, oldStr) {
			return "", fmt.Errorf("String not found in file (edit %d): %s", i+1, rel)
		}
		content = strings.Replace(content, oldStr, newStr, 1)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return fmt.Sprintf("Applied %d edits to %s", len(rawEdits), rel), nil
}

func runGlob(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	pattern, err := argString(args, "pattern")
	if err != nil {
		return "", err
	}
	root := s.ws.Root()
	if rel := optString(args, "path"); rel != "" {
		root, err = s.ws.Resolve(rel)
		if err != nil {
			return "", err
		}
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return "", fmt.Errorf("invalid glob pattern: %w", err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "No files found", nil
	}
	return strings.Join(matches, "\n"), nil
}

func runGrep(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	pattern, err := argString(args, "pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regular expression: %w", err)
	}
	root := s.ws.Root()
	if rel := optString(args, "path"); rel != "" {
		root, err = s.ws.Resolve(rel)
		if err != nil {
			return "", err
		}
	}
	include := optString(args, "include")

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || matches >= grepMaxMatches {
			return filepath.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || strings.HasPrefix(name, ".elisa") {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := doublestar.Match(include, name); !ok {
				return nil
			}
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d:%s\n", filepath.ToSlash(rel), i+1, line)
				matches++
				if matches >= grepMaxMatches {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}
	if matches == 0 {
		return "No matches found", nil
	}
	if matches >= grepMaxMatches {
		b.WriteString("[Match limit reached]\n")
	}
	return b.String(), nil
}

func runLS(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	root := s.ws.Root()
	if rel := optString(args, "path"); rel != "" {
		var err error
		root, err = s.ws.Resolve(rel)
		if err != nil {
			return "", err
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("listing directory: %w", err)
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", e.Name())
		}
	}
	if b.Len() == 0 {
		return "(empty directory)", nil
	}
	return b.String(), nil
}

// notebook is the minimal .ipynb structure the notebook tools need.
type notebook struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string   `json:"cell_type"`
	Source   []string `json:"source"`
}

func runNotebookRead(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	rel, err := argString(args, "notebook_path")
	if err != nil {
		return "", err
	}
	abs, err := s.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading notebook: %w", err)
	}
	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return "", fmt.Errorf("parsing notebook: %w", err)
	}
	var b strings.Builder
	for i, cell := range nb.Cells {
		fmt.Fprintf(&b, "--- Cell %d (%s) ---\n%s\n", i, cell.CellType, strings.Join(cell.Source, ""))
	}
	if b.Len() == 0 {
		return "(empty notebook)", nil
	}
	return b.String(), nil
}

func runNotebookEdit(_ context.Context, s *Sandbox, args map[string]any) (string, error) {
	rel, err := argString(args, "notebook_path")
	if err != nil {
		return "", err
	}
	newSource, err := argString(args, "new_source")
	if err != nil {
		return "", err
	}
	idx := optInt(args, "cell_number")
	abs, err := s.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading notebook: %w", err)
	}

	// Edit through a generic document so unrelated notebook fields and
	// cell metadata survive the rewrite.
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parsing notebook: %w", err)
	}
	cells, ok := doc["cells"].([]any)
	if !ok {
		return "", fmt.Errorf("notebook has no cells array")
	}
	if idx < 0 || idx >= len(cells) {
		return "", fmt.Errorf("cell_number %d out of range (notebook has %d cells)", idx, len(cells))
	}
	cell, ok := cells[idx].(map[string]any)
	if !ok {
		return "", fmt.Errorf("cell %d is not an object", idx)
	}
	lines := strings.SplitAfter(newSource, "\n")
	src := make([]any, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			src = append(src, l)
		}
	}
	cell["source"] = src

	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return "", fmt.Errorf("serializing notebook: %w", err)
	}
	if err := os.WriteFile(abs, out, 0o644); err != nil {
		return "", fmt.Errorf("writing notebook: %w", err)
	}
	return fmt.Sprintf("Replaced cell %d in %s", idx, rel), nil
}

func runAskUser(ctx context.Context, s *Sandbox, args map[string]any) (string, error) {
	if s.ask == nil {
		return "", fmt.Errorf("questions are not available in this run")
	}
	raw, ok := args["questions"].([]any)
	if !ok || len(raw) == 0 {
		return "", fmt.Errorf("missing required parameter: questions")
	}
	questions := make([]string, 0, len(raw))
	for _, q := range raw {
		if str, ok := q.(string); ok && strings.TrimSpace(str) != "" {
			questions = append(questions, str)
		}
	}
	if len(questions) == 0 {
		return "", fmt.Errorf("questions must be non-empty strings")
	}
	answers, err := s.ask(ctx, questions)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, answers[q])
	}
	return b.String(), nil
}
