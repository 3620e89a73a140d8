package graph

import (
	"sort"

	"github.com/google/wireit-go/internal/script"
)

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// detectCycle runs a 3-color DFS over configs' dependency edges,
// returning the offending path (first node repeated at the end) or nil
// if the graph is acyclic. Traversal order is deterministic (sorted
// keys) so a given cyclic input always reports the same path.
func detectCycle(configs map[string]*script.Config) []string {
	color := make(map[string]int, len(configs))
	var path []string
	var found []string

	keys := make([]string, 0, len(configs))
	for k := range configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var visit func(key string) bool
	visit = func(key string) bool {
		color[key] = colorGray
		path = append(path, key)

		cfg := configs[key]
		if cfg != nil {
			for _, d := range cfg.Dependencies {
				tk := d.Target.String()
				switch color[tk] {
				case colorWhite:
					if visit(tk) {
						return true
					}
				case colorGray:
					idx := indexOf(path, tk)
					found = append(append([]string{}, path[idx:]...), tk)
					return true
				}
			}
		}

		color[key] = colorBlack
		path = path[:len(path)-1]
		return false
	}

	for _, k := range keys {
		if color[k] == colorWhite {
			if visit(k) {
				return found
			}
		}
	}
	return nil
}

func indexOf(path []string, key string) int {
	for i, k := range path {
		if k == key {
			return i
		}
	}
	return 0
}
