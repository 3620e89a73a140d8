// Package cliconfig resolves the run configuration — parallelism, cache
// mode, failure mode, logger selection — from WIREIT_* environment
// variables layered under command-line flags, via spf13/viper's
// env-then-flag precedence. The core executor itself only ever sees the
// already-resolved executor.Options, never an env var name.
package cliconfig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/google/wireit-go/internal/executor"
)

// CacheMode selects which cache backend (if any) the run consults.
type CacheMode string

const (
	CacheLocal CacheMode = "local"
	CacheNone  CacheMode = "none"
	// CacheGitHub names the GitHub Actions cache backend; wireit-go does
	// not implement it, so selecting it here is accepted but treated as
	// CacheNone.
	CacheGitHub CacheMode = "github"
)

// Unbounded is the WIREIT_PARALLEL sentinel meaning no concurrency cap.
const Unbounded = 0

// Config is the fully-resolved set of run knobs, independent of how they
// were sourced (flag, env var, or default).
type Config struct {
	Parallelism int
	Cache       CacheMode
	Failures    executor.FailureMode
	Logger      string
}

// RegisterFlags adds the flags cmd/wireit exposes, one per WIREIT_*
// environment variable.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("parallel", "", `concurrent child-process cap: a positive integer or "infinity" (env WIREIT_PARALLEL)`)
	flags.String("cache", "", "cache mode: local|github|none (env WIREIT_CACHE)")
	flags.String("failures", "", "failure propagation: no-new|continue|kill (env WIREIT_FAILURES)")
	flags.String("logger", "", "logger implementation selector (env WIREIT_LOGGER)")
}

// Load binds flags to their WIREIT_* environment variables (env values
// win only when the flag was left at its zero value, matching viper's
// usual "explicit flag beats environment" precedence) and resolves the
// final Config, applying its defaults.
func Load(flags *pflag.FlagSet, isCI bool) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIREIT")
	v.AutomaticEnv()
	_ = v.BindPFlag("parallel", flags.Lookup("parallel"))
	_ = v.BindPFlag("cache", flags.Lookup("cache"))
	_ = v.BindPFlag("failures", flags.Lookup("failures"))
	_ = v.BindPFlag("logger", flags.Lookup("logger"))

	parallelism, err := parseParallel(v.GetString("parallel"))
	if err != nil {
		return nil, err
	}

	cacheMode := CacheMode(strings.ToLower(v.GetString("cache")))
	if cacheMode == "" {
		cacheMode = CacheLocal
		if isCI {
			cacheMode = CacheNone
		}
	}
	switch cacheMode {
	case CacheLocal, CacheNone, CacheGitHub:
	default:
		return nil, fmt.Errorf("invalid WIREIT_CACHE value %q", cacheMode)
	}

	failures, err := executor.ParseFailureMode(strings.ToLower(v.GetString("failures")))
	if err != nil {
		return nil, err
	}

	return &Config{
		Parallelism: parallelism,
		Cache:       cacheMode,
		Failures:    failures,
		Logger:      v.GetString("logger"),
	}, nil
}

func parseParallel(s string) (int, error) {
	if s == "" {
		return Unbounded, nil
	}
	if strings.EqualFold(s, "infinity") {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid WIREIT_PARALLEL value %q: must be a positive integer or \"infinity\"", s)
	}
	return n, nil
}
