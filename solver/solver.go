// Package solver implements the Challenge Solver state machine:
// Start/Extract/Evaluate/Resubmit/Verify/Backoff/Fail/Done.
//
// The single-flight-per-origin coordination is grounded on the Anubis
// solver pattern in other_examples/5724d297_dddepg-Gist -- a
// map[string]chan struct{} of in-progress solves guarded by a mutex, with
// waiters parked on the channel and woken when the first solver finishes.
// This module narrows "host" to cookiejar's registrable-domain scope, since
// that is the scope a clearance cookie is valid over.
package solver

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/firasghr/chromefp/cferrors"
	"github.com/firasghr/chromefp/cookiejar"
	"github.com/firasghr/chromefp/detector"
	"github.com/firasghr/chromefp/events"
	"github.com/firasghr/chromefp/fingerprint"
	"github.com/firasghr/chromefp/sandbox"
	"github.com/firasghr/chromefp/transport"
)

// DefaultMaxAttempts is the Start/Backoff/Extract retry ceiling.
const DefaultMaxAttempts = 3

// managed-wait sleep bounds.
const (
	minManagedWait    = 1 * time.Second
	maxManagedWait    = 30 * time.Second
	defaultRetryAfter = 1 * time.Second
	clearanceCacheTTL = 5 * time.Minute
)

// ExternalResolver delegates an Interactive (Turnstile) challenge to a
// caller-supplied solver, used when a Session's challenge-solve mode is
// config.SolveExternalInteractive. siteKey is best-effort extracted from
// the challenge page's cf-turnstile widget.
type ExternalResolver func(ctx context.Context, siteKey, challengeURL string) (string, error)

// Executor issues one HTTP request along the same Gate/RateLimiter/
// Transport path the Request Pipeline used for the original request, so
// resubmissions performed during a solve remain subject to the same
// admission control. The Request Pipeline supplies this closure; Solver
// never imports the gate or ratelimit packages directly, keeping it
// ignorant of everything but the narrow request/response/deadline
// contract.
type Executor func(ctx context.Context, req *transport.Request, deadline time.Time) (*transport.Response, error)

// Record is the ChallengeRecord attached to the Pipeline's returned
// Response.
type Record struct {
	Kind       detector.Kind
	Success    bool
	Attempts   int
	Duration   time.Duration
	FailReason cferrors.ChallengeReason
}

// Config configures a Solver.
type Config struct {
	// MaxAttempts bounds the state machine's retry loop. Zero selects
	// DefaultMaxAttempts.
	MaxAttempts int
	// ExternalResolver, if set, is invoked for Interactive challenges
	// instead of immediately failing with ReasonInteractive.
	ExternalResolver ExternalResolver
	// SandboxLimits bounds every JsInterstitial evaluation this Solver
	// runs, sourced from the Session's SandboxMemoryLimit/SandboxWallTime
	// configuration. Zero fields fall back to
	// sandbox.DefaultMemoryLimit/DefaultWallTime.
	SandboxLimits sandbox.Limits
}

// Solver drives the challenge-resolution state machine for one Session. A
// Solver is safe for concurrent use by multiple in-flight requests against
// the same Session.
type Solver struct {
	maxAttempts int
	resolver    ExternalResolver
	limits      sandbox.Limits

	mu      sync.Mutex
	solving map[string]chan struct{}
	clear   clearanceCache
}

// New returns a ready Solver.
func New(cfg Config) *Solver {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return &Solver{
		maxAttempts: max,
		resolver:    cfg.ExternalResolver,
		limits:      cfg.SandboxLimits,
		solving:     make(map[string]chan struct{}),
	}
}

// Solve resolves the challenge ev describes for initial/resp0, re-issuing
// requests through exec as the state machine demands, absorbing every
// resubmission's cookies into jar, and returns the final Response once the
// state machine reaches Done, or an error once it reaches Fail.
//
// Concurrent callers for the same registrable domain single-flight: the
// first caller solves; the rest wait for it and, when it leaves a valid
// clearance in jar, re-issue their own request through exec with that
// cookie instead of solving again, keeping the solver idempotent under
// concurrent load.
func (s *Solver) Solve(
	ctx context.Context,
	exec Executor,
	jar *cookiejar.Jar,
	profile *fingerprint.Profile,
	initial *transport.Request,
	resp0 *transport.Response,
	ev detector.Evidence,
	deadline time.Time,
	bus *events.Bus,
	sessionID string,
) (*transport.Response, Record, error) {
	start := time.Now()
	origin := cookiejar.RegistrableDomain(initial.URL.Hostname())

	publish(bus, events.Event{
		Kind: events.KindChallengeDetected, SessionID: sessionID,
		ChallengeKind: ev.Kind, Host: initial.URL.Hostname(),
	})

	var done chan struct{}
	for {
		s.mu.Lock()
		existing, ok := s.solving[origin]
		if !ok {
			done = make(chan struct{})
			s.solving[origin] = done
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		select {
		case <-existing:
		case <-ctx.Done():
			return nil, Record{Kind: ev.Kind}, &cferrors.DeadlineExceededError{Op: "solver.Solve: waiting for concurrent solve"}
		}
		if s.clear.isValid(origin) && jar.HasValidEdgeCookie(initial.URL) {
			resp, err := exec(ctx, withCookies(initial, jar), deadline)
			rec := Record{Kind: ev.Kind, Success: err == nil, Attempts: 0, Duration: time.Since(start)}
			return resp, rec, err
		}
		// The concurrent solve did not leave a usable clearance (it failed,
		// or targeted a different path on the same origin); loop around and
		// try to become the solver ourselves.
	}
	defer func() {
		s.mu.Lock()
		delete(s.solving, origin)
		close(done)
		s.mu.Unlock()
	}()

	resp, rec, err := s.run(ctx, exec, jar, profile, initial, resp0, ev, deadline)
	rec.Duration = time.Since(start)

	if rec.Success {
		s.clear.markSolved(origin, clearanceCacheTTL)
		publish(bus, events.Event{Kind: events.KindChallengeSolved, SessionID: sessionID, ChallengeKind: rec.Kind, Duration: rec.Duration})
	} else {
		publish(bus, events.Event{Kind: events.KindChallengeFailed, SessionID: sessionID, ChallengeKind: rec.Kind, Cause: string(rec.FailReason), Duration: rec.Duration})
	}
	return resp, rec, err
}

// run executes the Start/Extract/Evaluate/Resubmit/Verify/Backoff state
// machine. Callers must hold this origin's single-flight slot.
func (s *Solver) run(
	ctx context.Context,
	exec Executor,
	jar *cookiejar.Jar,
	profile *fingerprint.Profile,
	initial *transport.Request,
	resp0 *transport.Response,
	ev detector.Evidence,
	deadline time.Time,
) (*transport.Response, Record, error) {
	kind := ev.Kind
	resp := resp0
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		switch kind {

		case detector.None:
			return resp, Record{Kind: ev.Kind, Success: true, Attempts: attempt}, nil

		case detector.RateLimited:
			if err := sleepOrDone(ctx, retryAfter(resp.Header)); err != nil {
				return nil, Record{Kind: ev.Kind, FailReason: cferrors.ReasonRateLimited}, err
			}
			r, execErr := exec(ctx, withCookies(initial, jar), deadline)
			if execErr != nil {
				lastErr = execErr
				if attempt == s.maxAttempts {
					return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonRateLimited},
						&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonRateLimited, Err: execErr}
				}
				continue
			}
			jar.AbsorbResponse(initial.URL, r.Header.Values("Set-Cookie"))
			resp = r
			kind = detector.Classify(r.StatusCode, r.Header, r.Body, false).Kind
			if kind == detector.None {
				return r, Record{Kind: ev.Kind, Success: true, Attempts: attempt}, nil
			}
			continue

		case detector.ManagedWait:
			wait := clampDuration(retryAfter(resp.Header), minManagedWait, maxManagedWait)
			if err := sleepOrDone(ctx, wait); err != nil {
				return nil, Record{Kind: ev.Kind, FailReason: cferrors.ReasonMaxAttempts}, err
			}
			r, execErr := exec(ctx, withCookies(initial, jar), deadline)
			if execErr != nil {
				lastErr = execErr
				if attempt == s.maxAttempts {
					return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonMaxAttempts},
						&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonMaxAttempts, Err: execErr}
				}
				continue
			}
			jar.AbsorbResponse(initial.URL, r.Header.Values("Set-Cookie"))
			resp = r
			kind = detector.Classify(r.StatusCode, r.Header, r.Body, false).Kind
			if kind == detector.None {
				return r, Record{Kind: ev.Kind, Success: true, Attempts: attempt}, nil
			}
			continue

		case detector.Interactive:
			if s.resolver == nil {
				return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonInteractive},
					&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonInteractive}
			}
			siteKey := extractSiteKey(resp.Body)
			token, resolveErr := s.resolver(ctx, siteKey, initial.URL.String())
			if resolveErr != nil {
				return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonInteractive},
					&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonInteractive, Err: resolveErr}
			}
			req := withCookies(initial, jar)
			req.URL = addQueryParam(req.URL, "cf-turnstile-response", token)
			r, execErr := exec(ctx, req, deadline)
			if execErr != nil {
				return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonInteractive},
					&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonInteractive, Err: execErr}
			}
			jar.AbsorbResponse(initial.URL, r.Header.Values("Set-Cookie"))
			if verifySolved(r, jar, initial.URL) {
				return r, Record{Kind: ev.Kind, Success: true, Attempts: attempt}, nil
			}
			return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonVerify},
				&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonVerify}

		case detector.JsInterstitial:
			ex, extractErr := extractChallenge(resp.Body, initial.URL)
			if extractErr != nil {
				lastErr = extractErr
				if attempt == s.maxAttempts {
					return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonExtract},
						&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonExtract, Err: extractErr}
				}
				continue
			}

			result, sbErr := sandbox.Evaluate(ex.script, sandbox.ShimState{
				UserAgent: profile.UserAgent,
				Location:  initial.URL.String(),
				Cookie:    jar.AttachToRequest(initial.URL),
			}, s.limits)
			if sbErr != nil {
				return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonSandbox},
					&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonSandbox, Err: sbErr}
			}
			ex.fields[ex.answerField] = result.Value

			reqURL := buildResubmitURL(ex.actionURL, ex.fields)
			req := withCookies(&transport.Request{Method: http.MethodGet, URL: reqURL, Headers: initial.Headers}, jar)

			r, execErr := exec(ctx, req, deadline)
			if execErr != nil {
				lastErr = execErr
				if attempt == s.maxAttempts {
					return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonVerify},
						&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonVerify, Err: execErr}
				}
				continue
			}
			jar.AbsorbResponse(initial.URL, r.Header.Values("Set-Cookie"))

			if verifySolved(r, jar, initial.URL) {
				return r, Record{Kind: ev.Kind, Success: true, Attempts: attempt}, nil
			}
			if attempt == s.maxAttempts {
				return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonVerify},
					&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonVerify}
			}
			resp = r
			kind = detector.Classify(r.StatusCode, r.Header, r.Body, false).Kind
			continue

		default:
			return nil, Record{Kind: ev.Kind, Attempts: attempt, FailReason: cferrors.ReasonMaxAttempts},
				&cferrors.ChallengeUnsolvableError{Reason: cferrors.ReasonMaxAttempts}
		}
	}

	reason := cferrors.ReasonMaxAttempts
	if kind == detector.RateLimited {
		reason = cferrors.ReasonRateLimited
	}
	return nil, Record{Kind: kind, Attempts: s.maxAttempts, FailReason: reason},
		&cferrors.ChallengeUnsolvableError{Reason: reason, Err: lastErr}
}

// verifySolved reports whether a resubmission succeeded: it carries a
// cf_clearance Set-Cookie and jar now holds a valid edge-clearance cookie
// for u, or it returns 200 with a body the detector no longer classifies
// as a challenge.
func verifySolved(r *transport.Response, jar *cookiejar.Jar, u *url.URL) bool {
	for _, c := range (&http.Response{Header: r.Header}).Cookies() {
		if c.Name == "cf_clearance" && jar.HasValidEdgeCookie(u) {
			return true
		}
	}
	if r.StatusCode == http.StatusOK {
		return detector.Classify(r.StatusCode, r.Header, r.Body, false).Kind == detector.None
	}
	return false
}

func publish(bus *events.Bus, ev events.Event) {
	if bus == nil {
		return
	}
	bus.Publish(ev)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return &cferrors.DeadlineExceededError{Op: "solver: challenge sleep"}
	}
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func addQueryParam(u *url.URL, key, value string) *url.URL {
	out := *u
	q := out.Query()
	q.Set(key, value)
	out.RawQuery = q.Encode()
	return &out
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func withCookies(req *transport.Request, jar *cookiejar.Jar) *transport.Request {
	cookieStr := jar.AttachToRequest(req.URL)
	headers := req.Headers
	if headers != nil {
		headers = headers.Clone()
	} else {
		headers = &fingerprint.OrderedHeader{}
	}
	if cookieStr != "" {
		headers.SetPreservingPosition("Cookie", cookieStr)
	}
	return &transport.Request{Method: req.Method, URL: req.URL, Body: req.Body, Headers: headers}
}
