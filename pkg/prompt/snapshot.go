package prompt

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// snapshotMaxFiles bounds how many source files feed the structural digest.
const snapshotMaxFiles = 40

// Snapshot is the workspace view the assembler works from: what already
// exists so the agent does not rediscover it turn by turn.
type Snapshot struct {
	SrcFiles  []string
	TestFiles []string
	Digest    string
}

var signatureRe = regexp.MustCompile(`^\s*(def |class |function |func |const |export (default )?(function |class )?|public |private )`)

// digestExtensions limits the digest scan to code files.
var digestExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".go": true, ".html": true, ".css": true, ".ino": true, ".cpp": true,
	".c": true, ".h": true,
}

// TakeSnapshot scans W/src and W/tests and extracts a structural digest
// of function and class signatures.
func TakeSnapshot(root string) *Snapshot {
	snap := &Snapshot{
		SrcFiles:  listFiles(filepath.Join(root, "src"), "src"),
		TestFiles: listFiles(filepath.Join(root, "tests"), "tests"),
	}
	snap.Digest = buildDigest(root, snap.SrcFiles)
	return snap
}

// HasSources reports whether any source file exists.
func (s *Snapshot) HasSources() bool {
	return len(s.SrcFiles) > 0
}

func listFiles(dir, prefix string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return nil
		}
		out = append(out, filepath.ToSlash(filepath.Join(prefix, rel)))
		return nil
	})
	sort.Strings(out)
	return out
}

func buildDigest(root string, srcFiles []string) string {
	var b strings.Builder
	scanned := 0
	for _, rel := range srcFiles {
		if scanned >= snapshotMaxFiles {
			break
		}
		if !digestExtensions[strings.ToLower(filepath.Ext(rel))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		scanned++
		var sigs []string
		for _, line := range strings.Split(string(data), "\n") {
			if signatureRe.MatchString(line) {
				sigs = append(sigs, strings.TrimRight(line, " \t"))
			}
		}
		if len(sigs) == 0 {
			continue
		}
		b.WriteString(rel + ":\n")
		for _, sig := range sigs {
			b.WriteString("  " + strings.TrimLeft(sig, " \t") + "\n")
		}
	}
	return b.String()
}
