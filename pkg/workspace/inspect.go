package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// inspectMaxNodes bounds the walk so a huge or cyclic tree cannot stall the
// inspect endpoint.
const inspectMaxNodes = 8000

// topFilesLimit caps the file listing in the inspection summary.
const topFilesLimit = 20

// Inspection summarizes an existing or prospective workspace directory.
type Inspection struct {
	Exists        bool     `json:"exists"`
	IsEmpty       bool     `json:"is_empty"`
	FileCount     int      `json:"file_count"`
	SrcFileCount  int      `json:"src_file_count"`
	TestFileCount int      `json:"test_file_count"`
	HasGit        bool     `json:"has_git"`
	TopFiles      []string `json:"top_files"`
}

// Inspect walks the directory and reports counts, skipping .git,
// node_modules, and the workspace metadata tree.
func Inspect(path string) (*Inspection, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Inspection{Exists: false, IsEmpty: true, TopFiles: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return &Inspection{Exists: false, IsEmpty: true, TopFiles: []string{}}, nil
	}

	insp := &Inspection{Exists: true, TopFiles: []string{}}
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		insp.HasGit = true
	}

	nodes := 0
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		nodes++
		if nodes > inspectMaxNodes {
			return filepath.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if p == path {
				return nil
			}
			if name == ".git" || name == "node_modules" || strings.HasPrefix(name, ".elisa") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(path, p)
		if relErr != nil {
			return nil
		}
		insp.FileCount++
		switch {
		case strings.HasPrefix(rel, "src"+string(filepath.Separator)):
			insp.SrcFileCount++
		case strings.HasPrefix(rel, "tests"+string(filepath.Separator)):
			insp.TestFileCount++
		}
		if len(insp.TopFiles) < topFilesLimit {
			insp.TopFiles = append(insp.TopFiles, filepath.ToSlash(rel))
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Strings(insp.TopFiles)
	insp.IsEmpty = insp.FileCount == 0
	return insp, nil
}
