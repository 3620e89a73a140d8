package graph

import (
	"fmt"
	"path/filepath"
)

// catalogFor returns the npm-package-name → directory map for the
// workspace root that owns pkgDir, memoized by that root's directory.
// Used to resolve an Npm-kind package specifier and to expand
// <dependencies>.
func (a *analyzer) catalogFor(pkgDir string) (map[string]string, error) {
	root, err := a.findWorkspaceRoot(pkgDir)
	if err != nil {
		return nil, err
	}
	if e, ok := a.catalogs[root]; ok {
		return e.dirs, e.err
	}
	dirs, err := a.buildCatalog(root)
	a.catalogs[root] = catalogEntry{dirs: dirs, err: err}
	return dirs, err
}

// findWorkspaceRoot walks upward from pkgDir looking for the nearest
// ancestor manifest that declares "workspaces" — the monorepo root that
// owns pkgDir as one of its workspaces.
func (a *analyzer) findWorkspaceRoot(pkgDir string) (string, error) {
	dir := pkgDir
	for {
		m, err := a.reader.Read(dir)
		if err == nil && m.Workspaces != nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no workspace root (ancestor declaring \"workspaces\") found above %s", pkgDir)
		}
		dir = parent
	}
}

func (a *analyzer) buildCatalog(root string) (map[string]string, error) {
	m, err := a.reader.Read(root)
	if err != nil {
		return nil, err
	}
	dirs, err := resolveWorkspaceDirs(root, m.Workspaces)
	if err != nil {
		return nil, err
	}

	catalog := make(map[string]string, len(dirs))
	for _, dir := range dirs {
		wm, err := a.reader.Read(dir)
		if err != nil || wm.Name == "" {
			continue
		}
		catalog[wm.Name] = dir
	}
	return catalog, nil
}
