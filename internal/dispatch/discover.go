package dispatch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/varie-ai/workstation/internal/workspace"
)

const maxDiscoverDepth = 3

var skipDirNames = map[string]bool{
	"node_modules": true,
	"archive":      true,
}

// DiscoverRepos walks up to maxDiscoverDepth levels under root,
// treating any directory containing a .git entry or a CLAUDE.md file
// as a repo. Dot-directories, node_modules, and archive are skipped
// entirely.
func DiscoverRepos(root string) ([]workspace.RepoRecord, error) {
	var out []workspace.RepoRecord
	err := walkLevels(root, maxDiscoverDepth, func(dir string) {
		hasGit := exists(filepath.Join(dir, ".git"))
		hasMarker := exists(filepath.Join(dir, "CLAUDE.md"))
		if !hasGit && !hasMarker {
			return
		}
		out = append(out, workspace.RepoRecord{
			Name:          filepath.Base(dir),
			AbsolutePath:  dir,
			Source:        workspace.SourceScanned,
			HasMarkerFile: hasMarker,
		})
	})
	return out, err
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// walkLevels visits every directory under root down to depth levels,
// skipping dot-directories, node_modules, and archive, calling visit
// on each directory it descends into (including root's direct
// children, not root itself).
func walkLevels(root string, depth int, visit func(dir string)) error {
	if depth <= 0 {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || skipDirNames[name] {
			continue
		}
		child := filepath.Join(root, name)
		visit(child)
		if err := walkLevels(child, depth-1, visit); err != nil {
			return err
		}
	}
	return nil
}

// MergeDiscovered folds newly discovered repos into idx without
// overwriting any existing project entry, so a second discovery pass
// over the same tree adds nothing. Each new repo becomes its own
// project named after the repo, with status "active" if it carries a
// marker file, else "discovered".
func MergeDiscovered(idx *workspace.ProjectsIndex, found []workspace.RepoRecord) (added int) {
	for _, rec := range found {
		if _, exists := idx.Projects[rec.Name]; exists {
			continue
		}
		status := "discovered"
		if rec.HasMarkerFile {
			status = "active"
		}
		idx.Projects[rec.Name] = &workspace.Project{
			Repos:  []workspace.RepoEntry{{Path: rec.AbsolutePath}},
			Status: status,
		}
		added++
	}
	return added
}
