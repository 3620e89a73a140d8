package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pyr-sh/dag"
	"golang.org/x/sync/semaphore"

	"github.com/google/wireit-go/internal/cache"
	"github.com/google/wireit-go/internal/fingerprint"
	"github.com/google/wireit-go/internal/fsutil"
	"github.com/google/wireit-go/internal/globs"
	"github.com/google/wireit-go/internal/graph"
	"github.com/google/wireit-go/internal/process"
	"github.com/google/wireit-go/internal/script"
)

// consumerPollInterval is how often a non-persistent service's consumer
// set is rechecked for having fully drained. There's no push
// notification for this, so it polls at the same cadence as
// internal/fsutil.Acquire's own wait loop.
const consumerPollInterval = 200 * time.Millisecond

// FailureMode controls how one script's failure affects the rest of the
// run.
type FailureMode int

const (
	// NoNew stops starting new scripts after the first failure; scripts
	// already running continue to completion. The default.
	NoNew FailureMode = iota
	// Continue lets unrelated branches keep starting and running.
	Continue
	// Kill immediately kills every running script and fails the run.
	Kill
)

// ParseFailureMode decodes a WIREIT_FAILURES value.
func ParseFailureMode(s string) (FailureMode, error) {
	switch s {
	case "", "no-new":
		return NoNew, nil
	case "continue":
		return Continue, nil
	case "kill":
		return Kill, nil
	default:
		return NoNew, fmt.Errorf("invalid failure mode %q", s)
	}
}

// Status is the terminal disposition of one script within a run.
type Status int

const (
	Succeeded Status = iota
	Failed
	// StartCancelled and Aborted are control-flow outcomes: downstream of
	// an already-reported failure, so they are never logged to the user
	// on their own.
	StartCancelled
	Aborted
)

// Reason further explains a Succeeded result.
type Reason int

const (
	ReasonRan Reason = iota
	ReasonFresh
	ReasonCacheHit
)

// ScriptResult is one script's outcome within a Run.
type ScriptResult struct {
	Ref    script.Reference
	Status Status
	Reason Reason
	Err    error
}

func (r *ScriptResult) isControlFlow() bool {
	return r.Status == StartCancelled || r.Status == Aborted
}

// Result is the outcome of a whole executor Run.
type Result struct {
	Scripts map[string]*ScriptResult // keyed by Reference.String()
}

// Options configures one Run.
type Options struct {
	// Parallelism bounds concurrent child spawns. Zero means unbounded.
	Parallelism int
	FailureMode FailureMode
	// Cache is consulted for fully-tracked scripts. Nil disables caching
	// (WIREIT_CACHE=none).
	Cache   cache.Cache
	Logger  hclog.Logger
	Runtime Runtime
	// ForceKill, if non-nil, is closed (by the caller, e.g. on a second
	// SIGINT) to escalate an in-progress kill from the process's default
	// signal to an unconditional kill of every tracked child.
	ForceKill <-chan struct{}
}

type executor struct {
	result *graph.Result
	opts   Options
	sem    *semaphore.Weighted
	logger hclog.Logger

	mu           sync.Mutex
	results      map[string]*ScriptResult
	fingerprints map[string]*fingerprint.Result
	running      map[string]*process.Process
	logged       map[string]bool

	stopNew atomic.Bool
}

const unboundedWeight = int64(1) << 40

// Run drives analyzed to completion: every reachable script is brought
// to Succeeded or Failed (or, if the run was cancelled or downstream of
// an earlier failure, StartCancelled/Aborted), honoring opts.FailureMode
// and the worker-pool parallelism bound.
//
// ctx cancellation is treated as the first SIGINT: the executor stops
// starting new scripts and signals every running child's process group.
// A second escalation is the caller's responsibility via opts.ForceKill.
func Run(ctx context.Context, analyzed *graph.Result, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	weight := unboundedWeight
	if opts.Parallelism > 0 {
		weight = int64(opts.Parallelism)
	}

	e := &executor{
		result:       analyzed,
		opts:         opts,
		sem:          semaphore.NewWeighted(weight),
		logger:       opts.Logger,
		results:      map[string]*ScriptResult{},
		fingerprints: map[string]*fingerprint.Result{},
		running:      map[string]*process.Process{},
		logged:       map[string]bool{},
	}

	stopCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go e.watchCancellation(ctx, stopCtx.Done())

	errs := analyzed.Graph.Walk(func(v dag.Vertex) error {
		key := dag.VertexName(v)
		return e.runNode(ctx, key)
	})

	e.stopRemainingServices()

	var agg error
	for _, err := range errs {
		if err != nil {
			agg = multierror.Append(agg, err)
		}
	}

	out := &Result{Scripts: map[string]*ScriptResult{}}
	e.mu.Lock()
	for k, v := range e.results {
		out.Scripts[k] = v
	}
	e.mu.Unlock()
	return out, agg
}

func (e *executor) watchCancellation(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stop:
		return
	}
	e.stopNew.Store(true)
	e.mu.Lock()
	procs := make([]*process.Process, 0, len(e.running))
	for _, p := range e.running {
		procs = append(procs, p)
	}
	e.mu.Unlock()
	for _, p := range procs {
		p.Kill(os.Interrupt)
	}
	if e.opts.ForceKill != nil {
		<-e.opts.ForceKill
		e.mu.Lock()
		procs = make([]*process.Process, 0, len(e.running))
		for _, p := range e.running {
			procs = append(procs, p)
		}
		e.mu.Unlock()
		for _, p := range procs {
			p.Kill(os.Kill)
		}
	}
}

func (e *executor) recordResult(r *ScriptResult) {
	e.mu.Lock()
	e.results[r.Ref.String()] = r
	e.mu.Unlock()
}

func (e *executor) resultFor(key string) *ScriptResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[key]
}

func (e *executor) logFailureOnce(ref script.Reference, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logged[ref.String()] {
		return
	}
	e.logged[ref.String()] = true
	e.logger.Error("script failed", "script", ref.String(), "error", err)
}

// runNode is the per-vertex callback dag.AcyclicGraph.Walk drives: by the
// time it is called, every script this one depends on (per the edges
// internal/graph built) has already had its own callback return, so
// dependency ordering falls out of Walk's own topological semantics.
func (e *executor) runNode(ctx context.Context, key string) error {
	cfg, ok := e.result.Configs[key]
	if !ok {
		return nil
	}
	ref := cfg.Ref

	for _, dep := range cfg.Dependencies {
		depResult := e.resultFor(dep.Target.String())
		if depResult == nil {
			continue
		}
		if depResult.Status == Failed || depResult.Status == Aborted {
			e.recordResult(&ScriptResult{Ref: ref, Status: Aborted})
			return nil
		}
	}

	if e.stopNew.Load() {
		e.recordResult(&ScriptResult{Ref: ref, Status: StartCancelled})
		return nil
	}

	if cfg.IsService() {
		return e.runService(ctx, cfg)
	}
	return e.runStandard(ctx, cfg)
}

func (e *executor) runStandard(ctx context.Context, cfg *script.Config) error {
	ref := cfg.Ref
	stateDir := ref.StateDir()
	if err := os.MkdirAll(stateDir, fsutil.DirPermissions); err != nil {
		return e.fail(ref, err)
	}

	var lock *fsutil.Lock
	if cfg.Output != nil {
		l, err := fsutil.Acquire(ctx, stateDir, func() {
			e.logger.Info("locked", "script", ref.String())
		})
		if err != nil {
			return e.fail(ref, err)
		}
		lock = l
		defer lock.Release()
	}

	fp, err := e.computeFingerprint(cfg)
	if err != nil {
		return e.fail(ref, err)
	}
	e.mu.Lock()
	e.fingerprints[ref.String()] = fp
	e.mu.Unlock()

	if e.stopNew.Load() {
		e.recordResult(&ScriptResult{Ref: ref, Status: StartCancelled})
		return nil
	}

	priorCanonical, hadPrior := readFingerprint(stateDir)

	if fp.FullyTracked && hadPrior && sha256Hex(priorCanonical) == fp.Hash {
		currentManifest, _ := captureManifest(cfg.Ref.PackageDir, cfg.Output)
		priorManifest, hasManifest := readManifest(stateDir)
		if hasManifest && currentManifest.equal(priorManifest) {
			e.replay(stateDir)
			e.recordResult(&ScriptResult{Ref: ref, Status: Succeeded, Reason: ReasonFresh})
			return nil
		}
	}

	var hit *cache.Hit
	if fp.FullyTracked && e.opts.Cache != nil {
		h, err := e.opts.Cache.Get(ref, fp.Hash)
		if err == nil {
			hit = h
		}
	}

	if err := clearPersistedRunState(stateDir); err != nil {
		return e.fail(ref, err)
	}

	cleanMode := cfg.Clean
	if hit != nil {
		cleanMode = script.CleanAlways
	}
	if err := e.cleanOutputs(cfg, cleanMode, priorCanonical, hadPrior); err != nil {
		return e.fail(ref, err)
	}

	if hit != nil {
		if err := hit.Apply(cfg.Ref.PackageDir, stateDir); err != nil {
			return e.fail(ref, err)
		}
	} else {
		if err := e.spawn(ctx, cfg, stateDir); err != nil {
			e.logFailureOnce(ref, err)
			e.recordResult(&ScriptResult{Ref: ref, Status: Failed, Err: err})
			e.onFailure()
			return err
		}
	}

	manifest, err := captureManifest(cfg.Ref.PackageDir, cfg.Output)
	if err != nil {
		return e.fail(ref, err)
	}
	if err := writeFingerprint(stateDir, fp.Canonical); err != nil {
		return e.fail(ref, err)
	}
	if err := writeManifest(stateDir, manifest); err != nil {
		return e.fail(ref, err)
	}
	if fp.FullyTracked && hit == nil && e.opts.Cache != nil {
		if entries, err := globs.Match(cfg.Ref.PackageDir, cfg.Output); err == nil {
			relPaths := make([]string, 0, len(entries))
			for _, en := range entries {
				relPaths = append(relPaths, en.RelPath)
			}
			_ = e.opts.Cache.Set(ref, fp.Hash, cfg.Ref.PackageDir, stateDir, relPaths)
		}
	}

	reason := ReasonRan
	if hit != nil {
		reason = ReasonCacheHit
	}
	e.recordResult(&ScriptResult{Ref: ref, Status: Succeeded, Reason: reason})
	return nil
}

func (e *executor) fail(ref script.Reference, err error) error {
	e.logFailureOnce(ref, err)
	e.recordResult(&ScriptResult{Ref: ref, Status: Failed, Err: err})
	e.onFailure()
	return err
}

func (e *executor) onFailure() {
	switch e.opts.FailureMode {
	case NoNew:
		e.stopNew.Store(true)
	case Kill:
		e.stopNew.Store(true)
		e.mu.Lock()
		procs := make([]*process.Process, 0, len(e.running))
		for _, p := range e.running {
			procs = append(procs, p)
		}
		e.mu.Unlock()
		for _, p := range procs {
			p.Kill(os.Interrupt)
		}
	case Continue:
		// unrelated branches are unaffected; dependents of this exact
		// script are still stopped via the Aborted check in runNode.
	}
}

func (e *executor) cleanOutputs(cfg *script.Config, mode script.CleanMode, priorCanonical string, hadPrior bool) error {
	if cfg.Output == nil || mode == script.CleanNever {
		return nil
	}
	if mode == script.CleanIfFileDeleted {
		if hadPrior {
			priorFiles := previousInputFiles(priorCanonical)
			currentEntries, err := globs.Match(cfg.Ref.PackageDir, cfg.Files)
			if err != nil {
				return err
			}
			currentFiles := make(map[string]bool, len(currentEntries))
			for _, en := range currentEntries {
				currentFiles[en.RelPath] = true
			}
			subset := true
			for f := range priorFiles {
				if !currentFiles[f] {
					subset = false
					break
				}
			}
			if subset {
				return nil
			}
		}
	}
	entries, err := globs.Match(cfg.Ref.PackageDir, cfg.Output)
	if err != nil {
		return err
	}
	for _, en := range entries {
		if err := fsutil.RemoveAll(filepath.Join(cfg.Ref.PackageDir, en.RelPath)); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) spawn(ctx context.Context, cfg *script.Config, stateDir string) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	if e.stopNew.Load() {
		return fmt.Errorf("start-cancelled")
	}

	env := BuildScriptEnv(e.opts.Runtime, cfg)
	var stdout, stderr *replayWriter
	stdout = newReplayWriter(filepath.Join(stateDir, stdoutFileName))
	stderr = newReplayWriter(filepath.Join(stateDir, stderrFileName))
	defer stdout.Close()
	defer stderr.Close()

	p := process.Start(ctx, process.Options{
		Command: commandWithExtraArgs(cfg),
		Dir:     cfg.Ref.PackageDir,
		Env:     env,
		Stdout:  stdout,
		Stderr:  stderr,
		Logger:  e.logger,
	})

	e.mu.Lock()
	e.running[cfg.Ref.String()] = p
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, cfg.Ref.String())
		e.mu.Unlock()
	}()

	res := <-p.Done()
	switch res.Outcome {
	case process.ExitZero:
		return nil
	case process.Killed:
		return fmt.Errorf("killed")
	case process.ExitNonZero:
		return fmt.Errorf("exit-non-zero(%d)", res.ExitCode)
	case process.ExitSignal:
		return fmt.Errorf("exit-signal(%s)", res.Signal)
	default:
		return fmt.Errorf("spawn-error: %s", res.Message)
	}
}

func (e *executor) replay(stateDir string) {
	for _, name := range []string{stdoutFileName, stderrFileName} {
		b, err := os.ReadFile(filepath.Join(stateDir, name))
		if err == nil && len(b) > 0 {
			e.logger.Info("replay", "stream", name, "script", filepath.Base(stateDir))
		}
	}
}

func (e *executor) computeFingerprint(cfg *script.Config) (*fingerprint.Result, error) {
	var deps []fingerprint.Dependency
	for _, d := range cfg.CascadingDependencies() {
		e.mu.Lock()
		fp := e.fingerprints[d.Target.String()]
		e.mu.Unlock()
		if fp == nil {
			deps = append(deps, fingerprint.Dependency{Ref: d.Target, FullyTracked: false})
			continue
		}
		deps = append(deps, fingerprint.Dependency{Ref: d.Target, Hash: fp.Hash, FullyTracked: fp.FullyTracked})
	}
	envValues := map[string]string{}
	for name, def := range cfg.Env {
		if v := e.opts.Runtime.getenv(name); v != "" {
			envValues[name] = v
		} else {
			envValues[name] = def
		}
	}
	return fingerprint.Compute(cfg, deps, fingerprint.HostPlatform(), envValues)
}

// runService executes a service script: it starts the child process and
// returns to its Walk callback as soon as Ready fires, unblocking
// consumers, while a background goroutine watches for the process
// outliving its consumers.
func (e *executor) runService(ctx context.Context, cfg *script.Config) error {
	ref := cfg.Ref
	fp, err := e.computeFingerprint(cfg)
	if err != nil {
		return e.fail(ref, err)
	}
	e.mu.Lock()
	e.fingerprints[ref.String()] = fp
	e.mu.Unlock()

	env := BuildScriptEnv(e.opts.Runtime, cfg)
	var readyPattern = compileReadyWhen(cfg)

	p := process.Start(ctx, process.Options{
		Command:      commandWithExtraArgs(cfg),
		Dir:          cfg.Ref.PackageDir,
		Env:          env,
		ReadyPattern: readyPattern,
		Logger:       e.logger,
	})

	e.mu.Lock()
	e.running[ref.String()] = p
	e.mu.Unlock()

	select {
	case <-p.Ready():
	case res := <-p.Done():
		e.mu.Lock()
		delete(e.running, ref.String())
		e.mu.Unlock()
		err := fmt.Errorf("service-exited-unexpectedly: %v", res)
		e.logFailureOnce(ref, err)
		e.recordResult(&ScriptResult{Ref: ref, Status: Failed, Err: err})
		e.onFailure()
		return err
	}

	e.recordResult(&ScriptResult{Ref: ref, Status: Succeeded, Reason: ReasonRan})

	persistent := e.result.Persistent[ref.String()]
	go e.watchService(ref, p, persistent)
	return nil
}

func (e *executor) watchService(ref script.Reference, p *process.Process, persistent bool) {
	done := p.Done()
	var consumerDrain <-chan struct{}
	if !persistent {
		consumerDrain = e.waitForConsumersDrained(ref)
	}
	select {
	case res := <-done:
		e.mu.Lock()
		delete(e.running, ref.String())
		e.mu.Unlock()
		if res.Outcome != process.Killed {
			err := fmt.Errorf("service-exited-unexpectedly: %v", res)
			e.logFailureOnce(ref, err)
		}
	case <-consumerDrain:
		p.Kill(os.Interrupt)
		<-done
		e.mu.Lock()
		delete(e.running, ref.String())
		e.mu.Unlock()
	}
}

// waitForConsumersDrained blocks until every direct consumer of ref has
// reached a terminal state, then closes the returned channel.
func (e *executor) waitForConsumersDrained(ref script.Reference) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		consumers := e.directConsumersOf(ref.String())
		if len(consumers) == 0 {
			return
		}
		for {
			remaining := false
			for _, c := range consumers {
				r := e.resultFor(c)
				if r == nil {
					remaining = true
					break
				}
			}
			if !remaining {
				return
			}
			time.Sleep(consumerPollInterval)
		}
	}()
	return out
}

func (e *executor) directConsumersOf(targetKey string) []string {
	var out []string
	for key, cfg := range e.result.Configs {
		for _, d := range cfg.Dependencies {
			if d.Target.String() == targetKey {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

func (e *executor) stopRemainingServices() {
	e.mu.Lock()
	procs := make([]*process.Process, 0, len(e.running))
	for _, p := range e.running {
		procs = append(procs, p)
	}
	e.mu.Unlock()
	for _, p := range procs {
		p.Kill(os.Interrupt)
		<-p.Done()
	}
}

func compileReadyWhen(cfg *script.Config) *regexp.Regexp {
	if cfg.Service == nil || cfg.Service.ReadyWhen.LineMatches == nil {
		return nil
	}
	re, err := regexp.Compile(*cfg.Service.ReadyWhen.LineMatches)
	if err != nil {
		return nil
	}
	return re
}

// commandWithExtraArgs appends the root invocation's pass-through
// arguments (populated by the analyzer only for the script named on the
// command line) to cfg's command, single-quoted for the POSIX/cmd shell
// process.Start spawns the command through.
func commandWithExtraArgs(cfg *script.Config) string {
	command := ""
	if cfg.Command != nil {
		command = *cfg.Command
	}
	if command == "" || len(cfg.ExtraArgs) == 0 {
		return command
	}
	var b strings.Builder
	b.WriteString(command)
	for _, arg := range cfg.ExtraArgs {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sha256Hex(canonicalJSON string) string {
	sum := sha256.Sum256([]byte(canonicalJSON))
	return hex.EncodeToString(sum[:])
}
