package fingerprint

import (
	"encoding/json"
	"fmt"
)

// Difference returns a human-readable description of the first
// structural difference between two canonical fingerprint JSON strings,
// checked in a fixed order: platform, arch, runtime version, command,
// extraArgs, clean, output, service, env, files (added/removed/changed),
// dependencies (added/removed/changed). Returns ("", false) if a and b
// are identical.
func Difference(a, b string) (string, bool) {
	var ca, cb canonical
	if err := json.Unmarshal([]byte(a), &ca); err != nil {
		return fmt.Sprintf("could not parse first fingerprint: %v", err), true
	}
	if err := json.Unmarshal([]byte(b), &cb); err != nil {
		return fmt.Sprintf("could not parse second fingerprint: %v", err), true
	}

	if ca.Platform != cb.Platform {
		return fmt.Sprintf("platform changed: %q -> %q", ca.Platform, cb.Platform), true
	}
	if ca.Arch != cb.Arch {
		return fmt.Sprintf("arch changed: %q -> %q", ca.Arch, cb.Arch), true
	}
	if ca.RuntimeVersion != cb.RuntimeVersion {
		return fmt.Sprintf("runtime version changed: %q -> %q", ca.RuntimeVersion, cb.RuntimeVersion), true
	}
	if ca.Command != cb.Command {
		return fmt.Sprintf("command changed: %q -> %q", ca.Command, cb.Command), true
	}
	if !stringSliceEqual(ca.ExtraArgs, cb.ExtraArgs) {
		return fmt.Sprintf("extraArgs changed: %v -> %v", ca.ExtraArgs, cb.ExtraArgs), true
	}
	if ca.Clean != cb.Clean {
		return fmt.Sprintf("clean changed: %q -> %q", ca.Clean, cb.Clean), true
	}
	if !stringSliceEqual(ca.Output, cb.Output) {
		return fmt.Sprintf("output changed: %v -> %v", ca.Output, cb.Output), true
	}
	if !serviceEqual(ca.Service, cb.Service) {
		return "service configuration changed", true
	}
	if msg, differs := mapDifference("env", ca.Env, cb.Env); differs {
		return msg, true
	}
	if msg, differs := mapDifference("files", ca.Files, cb.Files); differs {
		return msg, true
	}
	if msg, differs := mapDifference("dependencies", ca.Dependencies, cb.Dependencies); differs {
		return msg, true
	}
	return "", false
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func serviceEqual(a, b *serviceFingerprint) bool {
	if a == nil || b == nil {
		return a == b
	}
	if (a.LineMatches == nil) != (b.LineMatches == nil) {
		return false
	}
	if a.LineMatches != nil && *a.LineMatches != *b.LineMatches {
		return false
	}
	return true
}

// mapDifference reports the first added/removed/changed key between two
// name->value maps, labeling the message with kind ("files" or
// "dependencies" or "env").
func mapDifference(kind string, a, b map[string]string) (string, bool) {
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return fmt.Sprintf("%s removed: %s", kind, k), true
		}
		if av != bv {
			return fmt.Sprintf("%s changed: %s", kind, k), true
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return fmt.Sprintf("%s added: %s", kind, k), true
		}
	}
	return "", false
}
