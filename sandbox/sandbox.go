// Package sandbox implements a fresh, isolated otto VM per challenge
// evaluation, seeded with a minimal browser shim, bounded by a wall-time
// and a best-effort memory ceiling.
//
// Each Evaluate call gets its own VM instance that is never shared and is
// torn down on exit, rather than one long-lived VM reused across
// challenges: a long-lived VM lets one challenge's global mutations leak
// into the next.
package sandbox

import (
	"fmt"
	"runtime"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/chromefp/cferrors"
)

// ShimState is the per-execution browser shim the Solver injects before
// running a challenge script: enough of window/document/navigator/
// performance to satisfy typical challenge scripts without granting real
// network, filesystem, or host clock access.
type ShimState struct {
	// UserAgent is exposed as navigator.userAgent.
	UserAgent string
	// Location is exposed as window.location.href.
	Location string
	// Cookie seeds document.cookie before the script runs (e.g. a prior
	// __cf_bm value the challenge script reads back).
	Cookie string
}

// Limits bounds one Evaluate call.
type Limits struct {
	// MemoryBytes is the heap-growth ceiling. Zero selects DefaultMemoryLimit.
	MemoryBytes int64
	// WallTime is the execution ceiling. Zero selects DefaultWallTime.
	WallTime time.Duration
}

const (
	// DefaultMemoryLimit is the sandbox's default memory ceiling.
	DefaultMemoryLimit int64 = 50 * 1024 * 1024
	// DefaultWallTime is the sandbox's default wall-time ceiling.
	DefaultWallTime = 10 * time.Second

	// memoryPollInterval is how often the memory monitor samples process
	// heap growth during an Evaluate call.
	memoryPollInterval = 5 * time.Millisecond
)

// Result is what Evaluate returns on success: the challenge script's final
// expression value, serialized to a string, plus document.cookie as the
// script left it so the Solver can copy any seeded cookies into the
// session's jar.
type Result struct {
	Value  string
	Cookie string
}

// sandboxHalt is the panic value used to unwind otto's VM loop from the
// Interrupt channel. It is never allowed to escape Evaluate.
type sandboxHalt struct {
	timeout bool
	memory  bool
}

// Evaluate runs script in a fresh, isolated VM seeded with shim, bounded by
// limits, and returns the final expression's value plus any cookie the
// script set. Isolation: the VM exposes no network, filesystem or
// environment access; the browser-like globals are injected by bootstrapEnv
// below, next to otto's built-in JavaScript objects.
//
// The shim carries no wall-clock time and no randomness, but otto's
// built-in Date reads the host clock and Math.random returns pseudo-random
// values, so a script that calls them, or performance.now(), can produce a
// different Result on each run.
func Evaluate(script string, shim ShimState, limits Limits) (Result, error) {
	if limits.MemoryBytes <= 0 {
		limits.MemoryBytes = DefaultMemoryLimit
	}
	if limits.WallTime <= 0 {
		limits.WallTime = DefaultWallTime
	}

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	if err := bootstrapEnv(vm, shim); err != nil {
		return Result{}, &cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonSandbox, Err: err}
	}

	done := make(chan struct{})
	stopMonitor := make(chan struct{})
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)

	timer := time.AfterFunc(limits.WallTime, func() {
		vm.Interrupt <- func() { panic(sandboxHalt{timeout: true}) }
	})
	defer timer.Stop()

	go monitorMemory(vm, baseline.HeapAlloc, limits.MemoryBytes, stopMonitor, done)

	var (
		value  otto.Value
		runErr error
		halt   sandboxHalt
		halted bool
	)
	func() {
		defer func() {
			close(done)
			if r := recover(); r != nil {
				if h, ok := r.(sandboxHalt); ok {
					halt = h
					halted = true
					return
				}
				panic(r)
			}
		}()
		value, runErr = vm.Run(script)
	}()
	close(stopMonitor)

	if halted {
		if halt.memory {
			return Result{}, &cferrors.SandboxMemoryError{LimitBytes: limits.MemoryBytes}
		}
		return Result{}, &cferrors.SandboxTimeoutError{Limit: limits.WallTime.String()}
	}
	if runErr != nil {
		return Result{}, &cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonSandbox, Err: runErr}
	}

	valueStr, err := value.ToString()
	if err != nil {
		return Result{}, &cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonSandbox, Err: err}
	}

	cookie, err := readCookie(vm)
	if err != nil {
		return Result{}, &cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonSandbox, Err: err}
	}

	return Result{Value: valueStr, Cookie: cookie}, nil
}

// monitorMemory is a best-effort memory ceiling: otto has no per-VM
// allocation accounting, so this samples process-wide heap growth since
// baseline at a fixed interval and fires the interrupt when growth exceeds
// limitBytes. Because the sample is process-wide rather than VM-scoped,
// concurrent sandbox executions or unrelated allocations elsewhere in the
// process can trigger a false positive; this is a documented limitation
// (see DESIGN.md), not a hard isolation guarantee.
func monitorMemory(vm *otto.Otto, baselineHeap uint64, limitBytes int64, stop <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			if m.HeapAlloc > baselineHeap && int64(m.HeapAlloc-baselineHeap) > limitBytes {
				select {
				case vm.Interrupt <- func() { panic(sandboxHalt{memory: true}) }:
				default:
				}
				return
			}
		}
	}
}

// bootstrapEnv injects the minimal browser shim: window (aliased to the
// global object), document.cookie seeded from shim.Cookie,
// document.createElement returning an inert stub object, navigator.userAgent,
// window.location.href, and performance.now() backed by a monotonic Go
// counter rather than the host wall clock.
func bootstrapEnv(vm *otto.Otto, shim ShimState) error {
	start := time.Now()
	if err := vm.Set("__performanceNow", func(call otto.FunctionCall) otto.Value {
		elapsed := time.Since(start).Seconds() * 1000
		v, _ := otto.ToValue(elapsed)
		return v
	}); err != nil {
		return fmt.Errorf("sandbox: bind performance.now: %w", err)
	}

	bootstrap := fmt.Sprintf(`
var window = this;
var navigator = { userAgent: %q };
var document = {
	cookie: %q,
	createElement: function(tag) {
		return { tagName: String(tag).toUpperCase(), style: {}, setAttribute: function() {}, getAttribute: function() { return null; } };
	}
};
window.navigator = navigator;
window.document = document;
window.location = { href: %q };
var performance = { now: __performanceNow };
window.performance = performance;
`, shim.UserAgent, shim.Cookie, shim.Location)

	if _, err := vm.Run(bootstrap); err != nil {
		return fmt.Errorf("sandbox: bootstrap environment: %w", err)
	}
	return nil
}

// readCookie returns the current value of document.cookie.
func readCookie(vm *otto.Otto) (string, error) {
	docVal, err := vm.Get("document")
	if err != nil {
		return "", fmt.Errorf("sandbox: get document: %w", err)
	}
	cookieVal, err := docVal.Object().Get("cookie")
	if err != nil {
		return "", fmt.Errorf("sandbox: get document.cookie: %w", err)
	}
	return cookieVal.String(), nil
}
