// Package graph implements the Analyzer: it reads package manifests,
// validates declared wireit blocks, expands dependency specifiers into
// concrete scheduling edges, and assembles the resulting DAG.
//
// The DAG is a dag.AcyclicGraph keyed by string vertex IDs of the form
// "packageDir#scriptName".
package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pyr-sh/dag"

	"github.com/google/wireit-go/internal/diagnostic"
	"github.com/google/wireit-go/internal/globs"
	"github.com/google/wireit-go/internal/manifest"
	"github.com/google/wireit-go/internal/script"
	"github.com/google/wireit-go/internal/specifier"
)

// defaultExclusions are prepended to every declared `files`/`output` list
// unless allowUsuallyExcludedPaths opts out. They are ordinary exclusion
// patterns, so a user pattern listed after them can still re-include a
// path beneath one of these directories.
var defaultExclusions = []string{
	"!.git/", "!.hg/", "!.svn/", "!.wireit/", "!.yarn/", "!CVS/", "!node_modules/",
}

// Result is the analyzer's output: every reachable, validated ScriptConfig
// plus the DAG connecting them and each service's computed persistence.
type Result struct {
	Root    script.Reference
	Configs map[string]*script.Config // keyed by Reference.String()
	Graph   *dag.AcyclicGraph

	// Persistent reports, for every service node (keyed by Reference.String()),
	// whether it is persistent (every transitive consumer is the root) or
	// ephemeral (scoped to its consumers).
	Persistent map[string]bool
}

type analyzer struct {
	reader   *manifest.Reader
	configs  map[string]*script.Config
	visiting map[string]bool
	diags    diagnostic.List
	catalogs map[string]catalogEntry
}

type catalogEntry struct {
	dirs map[string]string
	err  error
}

// Analyze runs the full analyzer pipeline starting at root, returning the
// assembled graph or the diagnostics that prevented one from being built.
func Analyze(reader *manifest.Reader, root script.Reference, extraArgs []string) (*Result, diagnostic.List) {
	a := &analyzer{
		reader:   reader,
		configs:  make(map[string]*script.Config),
		visiting: make(map[string]bool),
		catalogs: make(map[string]catalogEntry),
	}

	a.visit(root, extraArgs)
	if a.diags.HasErrors() {
		return nil, a.diags
	}

	if cyclePath := detectCycle(a.configs); cyclePath != nil {
		a.addDiag("", 0, 0, "dependency cycle detected: %s", formatCycle(cyclePath))
		return nil, a.diags
	}

	g := &dag.AcyclicGraph{}
	for key := range a.configs {
		g.Add(key)
	}
	for key, cfg := range a.configs {
		for _, d := range cfg.Dependencies {
			g.Connect(dag.BasicEdge(key, d.Target.String()))
		}
	}

	return &Result{
		Root:       root,
		Configs:    a.configs,
		Graph:      g,
		Persistent: computePersistence(a.configs, root),
	}, a.diags
}

func (a *analyzer) addDiag(file string, start, end int, format string, args ...interface{}) {
	a.diags = append(a.diags, &diagnostic.Diagnostic{
		File:     file,
		Range:    diagnostic.Range{Start: start, End: end},
		Severity: diagnostic.Error,
		Message:  fmt.Sprintf(format, args...),
	})
}

func declaringFile(packageDir string) string {
	return filepath.Join(packageDir, manifest.FileName)
}

// visit discovers and validates ref (and, transitively, everything it
// depends on), memoizing the result in a.configs. extraArgs is only
// meaningful for the very first (root) call; nested visits pass nil.
func (a *analyzer) visit(ref script.Reference, extraArgs []string) {
	key := ref.String()
	if _, done := a.configs[key]; done {
		return
	}
	if a.visiting[key] {
		// Part of a cycle; detectCycle reports it once every node involved
		// has finished being visited and its edges are recorded.
		return
	}
	a.visiting[key] = true
	defer delete(a.visiting, key)

	file := declaringFile(ref.PackageDir)

	m, err := a.reader.Read(ref.PackageDir)
	if err != nil {
		a.addDiag(file, 0, 0, "%s: %v", ref.String(), err)
		return
	}

	block, hasWireit := m.Wireit[ref.Name]
	cmd, hasScript := m.Scripts[ref.Name]

	switch {
	case hasWireit:
		a.configs[key] = a.buildConfig(ref, file, m, block, extraArgs)
	case hasScript:
		cmdCopy := cmd
		a.configs[key] = &script.Config{
			Ref:      ref,
			Command:  &cmdCopy,
			Clean:    script.CleanAlways,
			Location: script.SourceLocation{DeclaringFile: file},
		}
	default:
		a.addDiag(file, 0, 0, "no script named %q in package %s", ref.Name, ref.PackageDir)
	}
}

func (a *analyzer) buildConfig(ref script.Reference, file string, m *manifest.Manifest, block manifest.ScriptBlock, extraArgs []string) *script.Config {
	cfg := &script.Config{
		Ref:       ref,
		ExtraArgs: extraArgs,
		Location:  script.SourceLocation{DeclaringFile: file},
	}

	if block.Command != "" {
		cmd := block.Command
		cfg.Command = &cmd
	}

	cfg.Clean = resolveClean(block.Clean)

	if block.Files != nil {
		cfg.Files = applyDefaultExclusions(*block.Files, block.AllowUsuallyExcludedPaths)
	}
	if block.Output != nil {
		cfg.Output = applyDefaultExclusions(*block.Output, block.AllowUsuallyExcludedPaths)
	}

	if block.Service != nil && block.Service.Enabled {
		if block.Service.LineMatches != nil {
			if _, err := regexp.Compile(*block.Service.LineMatches); err != nil {
				a.addDiag(file, 0, 0, "script %q: invalid service.readyWhen.lineMatches regexp: %v", ref.Name, err)
			}
		}
		cfg.Service = &script.ServiceConfig{ReadyWhen: script.ReadyWhen{LineMatches: block.Service.LineMatches}}
	}

	if len(block.Env) > 0 {
		cfg.Env = make(map[string]string, len(block.Env))
		for name, spec := range block.Env {
			if spec.Default != nil {
				cfg.Env[name] = *spec.Default
			} else {
				cfg.Env[name] = ""
			}
		}
	}

	cfg.Dependencies = a.resolveDependencies(ref, file, m, block.Dependencies)

	return cfg
}

func resolveClean(c *manifest.Clean) script.CleanMode {
	if c == nil || !c.WasSpecified() {
		return script.CleanAlways
	}
	switch {
	case c.Never:
		return script.CleanNever
	case c.IfFileDeleted:
		return script.CleanIfFileDeleted
	default:
		return script.CleanAlways
	}
}

// applyDefaultExclusions prepends the standard exclusion patterns ahead
// of patterns, unless the caller opted out or patterns is nil/empty —
// defaults are never applied when the array is empty.
func applyDefaultExclusions(patterns []string, allowUsuallyExcludedPaths bool) []string {
	if len(patterns) == 0 || allowUsuallyExcludedPaths {
		return patterns
	}
	out := make([]string, 0, len(defaultExclusions)+len(patterns))
	out = append(out, defaultExclusions...)
	out = append(out, patterns...)
	return out
}

// resolveDependencies expands every raw specifier in order into one or
// more candidate targets, applies `!`-inversions against the
// already-matched set (mirroring globs.Match's left-to-right inclusion
// semantics), visits every surviving target, and assigns each edge's
// cascade flag: false when the target is a service, true otherwise.
func (a *analyzer) resolveDependencies(ref script.Reference, file string, m *manifest.Manifest, raw []string) []script.Dependency {
	included := make(map[string]script.Reference)
	var order []string

	for _, spec := range raw {
		parsed, err := specifier.Parse(spec)
		if err != nil {
			a.addDiag(file, 0, 0, "script %q: %v", ref.Name, err)
			continue
		}

		targets, diagMsg := a.expand(ref, m, parsed)
		if diagMsg != "" {
			a.addDiag(file, parsed.Package.Segment.Start, parsed.Package.Segment.End, "script %q: %s", ref.Name, diagMsg)
			continue
		}

		for _, t := range targets {
			key := t.String()
			if parsed.Inverted {
				delete(included, key)
				continue
			}
			if _, exists := included[key]; !exists {
				order = append(order, key)
			}
			included[key] = t
		}
	}

	deps := make([]script.Dependency, 0, len(order))
	for _, key := range order {
		target, ok := included[key]
		if !ok {
			continue
		}
		a.visit(target, nil)
		cascade := true
		if targetCfg, ok := a.configs[key]; ok && targetCfg.IsService() {
			cascade = false
		}
		deps = append(deps, script.Dependency{Target: target, Cascade: cascade})
	}
	return deps
}

// expand resolves a parsed specifier into the concrete ScriptReferences it
// names, or a non-empty diagnostic message if it cannot be resolved.
func (a *analyzer) expand(ref script.Reference, m *manifest.Manifest, parsed *specifier.Parsed) ([]script.Reference, string) {
	var pkgDirs []string

	switch parsed.Package.Kind {
	case specifier.PackageThis:
		pkgDirs = []string{ref.PackageDir}

	case specifier.PackagePath:
		pkgDirs = []string{filepath.Clean(filepath.Join(ref.PackageDir, parsed.Package.Segment.Text))}

	case specifier.PackageNpm:
		catalog, err := a.catalogFor(ref.PackageDir)
		if err != nil {
			return nil, err.Error()
		}
		dir, ok := catalog[parsed.Package.Segment.Text]
		if !ok {
			return nil, fmt.Sprintf("unknown package %q (not found among its workspace root's workspaces)", parsed.Package.Segment.Text)
		}
		pkgDirs = []string{dir}

	case specifier.PackageWorkspaces:
		if m.Workspaces == nil {
			return nil, "<workspaces> used but this package declares no \"workspaces\""
		}
		dirs, err := resolveWorkspaceDirs(ref.PackageDir, m.Workspaces)
		if err != nil {
			return nil, err.Error()
		}
		pkgDirs = dirs

	case specifier.PackageDependencies:
		catalog, err := a.catalogFor(ref.PackageDir)
		if err != nil {
			return nil, err.Error()
		}
		seen := make(map[string]bool)
		for name := range m.Dependencies {
			if dir, ok := catalog[name]; ok && !seen[dir] {
				seen[dir] = true
				pkgDirs = append(pkgDirs, dir)
			}
		}
		for name := range m.DevDependencies {
			if dir, ok := catalog[name]; ok && !seen[dir] {
				seen[dir] = true
				pkgDirs = append(pkgDirs, dir)
			}
		}
		sort.Strings(pkgDirs)
	}

	var out []script.Reference
	for _, dir := range pkgDirs {
		names, err := a.scriptNames(dir, ref, parsed.Script)
		if err != "" {
			return nil, err
		}
		for _, n := range names {
			out = append(out, script.NewReference(dir, n))
		}
	}
	return out, ""
}

// scriptNames resolves the script half of a specifier against pkgDir:
// <this> always resolves to the declaring script's own name, a plain
// name is used as-is, and anything else is treated as a glob matched
// against every script pkgDir declares.
func (a *analyzer) scriptNames(pkgDir string, declaring script.Reference, s specifier.Script) ([]string, string) {
	if s.Kind == specifier.ScriptThis {
		return []string{declaring.Name}, ""
	}

	text := s.Segment.Text
	if !containsGlobMeta(text) {
		return []string{text}, ""
	}

	m, err := a.reader.Read(pkgDir)
	if err != nil {
		return nil, fmt.Sprintf("reading %s: %v", declaringFile(pkgDir), err)
	}
	seen := make(map[string]bool)
	var all []string
	for n := range m.Wireit {
		if !seen[n] {
			seen[n] = true
			all = append(all, n)
		}
	}
	for n := range m.Scripts {
		if !seen[n] {
			seen[n] = true
			all = append(all, n)
		}
	}
	sort.Strings(all)

	var matched []string
	for _, n := range all {
		if ok, _ := doublestar.Match(text, n); ok {
			matched = append(matched, n)
		}
	}
	return matched, ""
}

func containsGlobMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func formatCycle(path []string) string {
	out := ""
	for i, k := range path {
		if i > 0 {
			out += " -> "
		}
		out += k
	}
	return out
}

// computePersistence decides, for every service node, whether it is
// persistent (every transitive consumer is the root script) or
// ephemeral.
func computePersistence(configs map[string]*script.Config, root script.Reference) map[string]bool {
	consumers := make(map[string]map[string]bool)
	for key, cfg := range configs {
		for _, d := range cfg.Dependencies {
			tk := d.Target.String()
			if consumers[tk] == nil {
				consumers[tk] = make(map[string]bool)
			}
			consumers[tk][key] = true
		}
	}

	rootKey := root.String()
	result := make(map[string]bool)
	for key, cfg := range configs {
		if !cfg.IsService() {
			continue
		}
		if key == rootKey {
			result[key] = true
			continue
		}
		seen := make(map[string]bool)
		queue := []string{key}
		allRoot := true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for c := range consumers[cur] {
				if seen[c] {
					continue
				}
				seen[c] = true
				if c != rootKey {
					allRoot = false
				}
				queue = append(queue, c)
			}
		}
		result[key] = allRoot && len(seen) > 0
	}
	return result
}

// resolveWorkspaceDirs glob-matches patterns (directory-only globs like
// "packages/*") against rootDir and returns the absolute directory of
// every match that actually contains a package manifest.
func resolveWorkspaceDirs(rootDir string, patterns []string) ([]string, error) {
	entries, err := globs.Match(rootDir, patterns)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.Kind != globs.Dir {
			continue
		}
		abs := filepath.Join(rootDir, e.RelPath)
		if _, err := os.Stat(filepath.Join(abs, manifest.FileName)); err != nil {
			continue
		}
		dirs = append(dirs, abs)
	}
	sort.Strings(dirs)
	return dirs, nil
}
