// Package globs implements a glob engine: matching brace-expanded
// patterns against the filesystem, honoring `!`-prefixed exclusions
// whose position in the pattern list is semantically significant, and
// reporting the kind (file, directory, symlink) of every match.
//
// Matching is built on github.com/bmatcuk/doublestar/v4, which natively
// understands brace alternatives ("{a,b}") and "**", and directory
// walking on github.com/karrick/godirwalk.
package globs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/karrick/godirwalk"
)

// Kind classifies a matched filesystem entry.
type Kind int

const (
	// File is a regular file.
	File Kind = iota
	// Dir is a directory.
	Dir
	// Symlink is a symbolic link, reported without following it.
	Symlink
)

// Entry is one matched filesystem entry, path relative to the base
// directory the glob was evaluated against, using forward slashes
// regardless of OS.
type Entry struct {
	RelPath string
	Kind    Kind
}

// Match walks baseDir and returns every entry whose relative path is
// selected by patterns, applying patterns left-to-right: a plain pattern
// adds matching paths to the result, a "!"-prefixed pattern removes
// previously-matched paths. Later exclusions can therefore re-exclude
// paths a later *inclusion* pattern re-added — pattern order is
// semantically significant, not incidental.
func Match(baseDir string, patterns []string) ([]Entry, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	candidates, err := walk(baseDir)
	if err != nil {
		return nil, err
	}

	included := make(map[string]bool, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		order = append(order, c.RelPath)
	}

	for _, pattern := range patterns {
		negate := strings.HasPrefix(pattern, "!")
		pat := pattern
		if negate {
			pat = pattern[1:]
		}
		for _, rel := range order {
			if matchesPattern(pat, rel) {
				included[rel] = !negate
			}
		}
	}

	byPath := make(map[string]Entry, len(candidates))
	for _, c := range candidates {
		byPath[c.RelPath] = c
	}

	var out []Entry
	for rel, ok := range included {
		if ok {
			out = append(out, byPath[rel])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// matchesPattern reports whether pattern selects rel, treating a
// trailing "/" on pattern as "this directory and everything under it"
// (e.g. ".git/", "node_modules/").
func matchesPattern(pattern, rel string) bool {
	if strings.HasSuffix(pattern, "/") {
		base := strings.TrimSuffix(pattern, "/")
		if ok, _ := doublestar.Match(base, rel); ok {
			return true
		}
		ok, _ := doublestar.Match(base+"/**", rel)
		return ok
	}
	ok, _ := doublestar.Match(pattern, rel)
	return ok
}

func walk(baseDir string) ([]Entry, error) {
	var out []Entry
	err := godirwalk.Walk(baseDir, &godirwalk.Options{
		Unsorted:            true,
		AllowNonDirectory:    true,
		FollowSymbolicLinks:  false,
		Callback: func(name string, info *godirwalk.Dirent) error {
			if name == baseDir {
				return nil
			}
			rel, err := filepath.Rel(baseDir, name)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			kind := File
			switch {
			case info.IsSymlink():
				kind = Symlink
			case info.IsDir():
				kind = Dir
			}
			out = append(out, Entry{RelPath: rel, Kind: kind})
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			if os.IsNotExist(err) {
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
