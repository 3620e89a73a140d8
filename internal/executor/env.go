package executor

import (
	"github.com/google/wireit-go/internal/process"
	"github.com/google/wireit-go/internal/script"
)

// BuildScriptEnv assembles a script's child-process environment: the
// runtime's own environ with process.BuildEnv's node_modules/.bin PATH
// prepending, overridden by cfg's declared passthrough env vars resolved
// against the real environment (falling back to the manifest-declared
// default when unset).
func BuildScriptEnv(rt Runtime, cfg *script.Config) []string {
	base := process.BuildEnv(rt.environ(), cfg.Ref.PackageDir, rt.IsTTY)

	if len(cfg.Env) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(cfg.Env))
	overridden := make(map[string]bool, len(cfg.Env))
	for name, def := range cfg.Env {
		value := rt.getenv(name)
		if value == "" {
			value = def
		}
		out = append(out, name+"="+value)
		overridden[name] = true
	}
	for _, kv := range base {
		name := kv
		for i, c := range kv {
			if c == '=' {
				name = kv[:i]
				break
			}
		}
		if !overridden[name] {
			out = append(out, kv)
		}
	}
	return out
}
