// Package pipeline implements the public orchestration façade that threads
// one request through the Gate, Rate Limiter, fingerprint-preserving
// Transport, Cookie Jar, Challenge Detector, and Challenge Solver, in that
// order, releasing every acquired resource on every exit path.
//
// The whole sequence runs as a flat chain of suspending operations with
// scoped acquisition, rather than a callback chain threaded through a bare
// *http.Client.
package pipeline

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/firasghr/chromefp/cferrors"
	"github.com/firasghr/chromefp/cookiejar"
	"github.com/firasghr/chromefp/detector"
	"github.com/firasghr/chromefp/events"
	"github.com/firasghr/chromefp/fingerprint"
	"github.com/firasghr/chromefp/gate"
	"github.com/firasghr/chromefp/ratelimit"
	"github.com/firasghr/chromefp/solver"
	"github.com/firasghr/chromefp/transport"
)

// redirectStatuses are the status codes the pipeline follows.
var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Config tunes a Pipeline's orchestration policy. It mirrors the subset of
// config.Config the pipeline itself consults directly.
type Config struct {
	// FollowRedirects is the maximum number of redirect hops followed
	// before TooManyRedirectsError. Zero follows no redirects; New applies
	// no default, config.DefaultConfig supplies 10.
	FollowRedirects int
	// DefaultDeadline bounds a Request that supplies no explicit deadline.
	// Default 30s.
	DefaultDeadline time.Duration
	// DisableChallengeSolving implements config.SolveOff: the Challenge
	// Solver is skipped entirely and any detected challenge is surfaced to
	// the caller unresolved -- the challenge page itself is returned as the
	// Response, with a nil Challenge record since no solve was attempted.
	// The zero value (false) runs the solver normally (config.SolveAuto).
	DisableChallengeSolving bool
}

// Request is one call into the pipeline: method, target, header overrides
// merged onto the profile's template, an optional body, and an optional
// deadline override (zero selects the Pipeline's DefaultDeadline).
type Request struct {
	Method   string
	URL      *url.URL
	Headers  map[string]string
	Body     []byte
	Deadline time.Time
}

// Response is the pipeline's public result: the wire response plus a small
// opaque SessionID token for correlation in events and logs (not a
// pointer back to the Session), and the Solver's ChallengeRecord, non-nil
// only when a challenge was detected and resolved along the way.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Proto      string
	SessionID  string
	RequestID  string
	Challenge  *solver.Record
}

// Pipeline wires the Gate, RateLimiter, Transport, and Solver for one
// Session; FingerprintProfile and CookieJar are supplied per call since a
// Session may hand the same Pipeline its own profile/jar pair without the
// Pipeline needing to know about Session at all.
type Pipeline struct {
	gate    *gate.Gate
	limiter *ratelimit.Limiter
	tr      *transport.Transport
	solver  *solver.Solver
	bus     *events.Bus

	followRedirects int
	defaultDeadline time.Duration
	solveDisabled   bool
}

// New builds a Pipeline from its already-constructed collaborators. bus may
// be nil, in which case event publication is a no-op.
func New(cfg Config, g *gate.Gate, limiter *ratelimit.Limiter, tr *transport.Transport, sv *solver.Solver, bus *events.Bus) *Pipeline {
	deadline := cfg.DefaultDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Pipeline{
		gate:            g,
		limiter:         limiter,
		tr:              tr,
		solver:          sv,
		bus:             bus,
		followRedirects: cfg.FollowRedirects,
		defaultDeadline: deadline,
		solveDisabled:   cfg.DisableChallengeSolving,
	}
}

// Execute runs the full orchestration sequence for one request against
// profile and jar, restricted to whitelist if non-nil (a nil whitelist
// means no restriction). sessionID is carried into every published event
// and the returned Response for correlation.
func (p *Pipeline) Execute(
	ctx context.Context,
	sessionID string,
	profile *fingerprint.Profile,
	jar *cookiejar.Jar,
	whitelist map[string]struct{},
	req Request,
) (*Response, error) {
	requestID := uuid.NewString()
	start := time.Now()

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = start.Add(p.defaultDeadline)
	}

	publish(p.bus, events.Event{
		Kind: events.KindRequestStarted, SessionID: sessionID,
		Method: req.Method, Host: req.URL.Hostname(),
	})

	// Step 1: Gate.acquire. Held for the lifetime of the request, including
	// any resubmissions a challenge solve performs, so the permit pool
	// reflects one logical request in flight rather than one wire round
	// trip.
	permit, err := p.gate.Acquire(ctx, deadline)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	// Step 2: whitelist check, before any network activity.
	if whitelist != nil {
		if _, ok := whitelist[req.URL.Hostname()]; !ok {
			return nil, &cferrors.OriginDeniedError{Host: req.URL.Hostname()}
		}
	}

	resp, record, err := p.roundTripWithRedirects(ctx, sessionID, profile, jar, req, deadline)
	if err != nil {
		return nil, err
	}

	publish(p.bus, events.Event{
		Kind: events.KindRequestCompleted, SessionID: sessionID,
		StatusCode: resp.StatusCode, TotalMs: float64(time.Since(start)) / float64(time.Millisecond),
	})

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		Proto:      resp.Proto,
		SessionID:  sessionID,
		RequestID:  requestID,
		Challenge:  record,
	}, nil
}

// roundTripWithRedirects executes one hop's transport/cookie/challenge
// steps and follows redirects: each hop re-enters the jar so Set-Cookie
// from intermediate hops is captured and cookies for the new origin are
// attached.
func (p *Pipeline) roundTripWithRedirects(
	ctx context.Context,
	sessionID string,
	profile *fingerprint.Profile,
	jar *cookiejar.Jar,
	req Request,
	deadline time.Time,
) (*transport.Response, *solver.Record, error) {
	currentURL := req.URL
	currentMethod := req.Method
	currentBody := req.Body
	var record *solver.Record

	for hop := 0; ; hop++ {
		if hop > p.followRedirects {
			return nil, nil, &cferrors.TooManyRedirectsError{Limit: p.followRedirects}
		}

		// Step 3: RateLimiter.acquire(origin, deadline).
		origin := currentURL.Hostname()
		if err := p.limiter.Acquire(ctx, origin, deadline); err != nil {
			return nil, nil, err
		}

		// Step 4: compose headers, attach cookies.
		treq := p.buildRequest(profile, jar, currentMethod, currentURL, currentBody, req.Headers)

		// Step 5: Transport.execute.
		resp0, err := p.tr.Execute(ctx, profile, treq, deadline)
		if err != nil {
			return nil, nil, err
		}

		// Step 6: absorb cookies.
		jar.AbsorbResponse(currentURL, resp0.Header.Values("Set-Cookie"))
		p.adjustRate(origin, resp0.StatusCode)

		// Step 7: classify.
		ev := detector.Classify(resp0.StatusCode, resp0.Header, resp0.Body, false)

		resp := resp0
		if ev.Kind != detector.None && !p.solveDisabled {
			// Step 8: Solver.solve.
			solved, rec, solveErr := p.solver.Solve(
				ctx, p.solverExecutor(profile, jar), jar, profile, treq, resp0, ev, deadline, p.bus, sessionID,
			)
			if solveErr != nil {
				return nil, nil, solveErr
			}
			record = &rec
			resp = solved
		}

		loc, redirected := redirectLocation(resp, currentURL)
		if !redirected {
			return resp, record, nil
		}

		if resp.StatusCode == http.StatusSeeOther ||
			((resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) && currentMethod == http.MethodPost) {
			currentMethod = http.MethodGet
			currentBody = nil
		}
		currentURL = loc
	}
}

// buildRequest implements step 4: compose_request_headers(profile, …) then
// merge the jar's current cookies for the target URL.
func (p *Pipeline) buildRequest(profile *fingerprint.Profile, jar *cookiejar.Jar, method string, u *url.URL, body []byte, overrides map[string]string) *transport.Request {
	headers := profile.ComposeRequestHeaders(u, method, int64(len(body)), len(body) > 0, overrides)
	if cookieStr := jar.AttachToRequest(u); cookieStr != "" {
		headers.SetPreservingPosition("Cookie", cookieStr)
	}
	return &transport.Request{Method: method, URL: u, Body: body, Headers: headers}
}

// solverExecutor closes over this Pipeline's RateLimiter and Transport so
// the Solver's resubmissions travel the same admission-control path as the
// original request, without the Solver importing either package directly.
func (p *Pipeline) solverExecutor(profile *fingerprint.Profile, jar *cookiejar.Jar) solver.Executor {
	return func(ctx context.Context, req *transport.Request, deadline time.Time) (*transport.Response, error) {
		origin := req.URL.Hostname()
		if err := p.limiter.Acquire(ctx, origin, deadline); err != nil {
			return nil, err
		}
		resp, err := p.tr.Execute(ctx, profile, req, deadline)
		if err != nil {
			return nil, err
		}
		jar.AbsorbResponse(req.URL, resp.Header.Values("Set-Cookie"))
		p.adjustRate(origin, resp.StatusCode)
		return resp, nil
	}
}

// adjustRate feeds a completed response's status back into the adaptive
// limiter and publishes RateLimitAdjusted only when the steady-state rate
// actually moved, so the event stream doesn't spam an event per response.
func (p *Pipeline) adjustRate(origin string, statusCode int) {
	before := p.limiter.CurrentRate(origin)
	p.limiter.OnResponse(origin, statusCode)
	after := p.limiter.CurrentRate(origin)
	if before != after {
		publish(p.bus, events.Event{Kind: events.KindRateLimitAdjusted, Host: origin, NewRate: after})
	}
}

// redirectLocation reports the resolved target URL if resp is a redirect
// the pipeline follows, or ok=false otherwise.
func redirectLocation(resp *transport.Response, base *url.URL) (loc *url.URL, ok bool) {
	if !redirectStatuses[resp.StatusCode] {
		return nil, false
	}
	raw := resp.Header.Get("Location")
	if raw == "" {
		return nil, false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return nil, false
	}
	return u, true
}

// Close releases the Pipeline's pooled connections. The Pipeline remains
// usable after Close; a subsequent Execute simply redials.
func (p *Pipeline) Close() {
	p.tr.Close()
}

func publish(bus *events.Bus, ev events.Event) {
	if bus == nil {
		return
	}
	bus.Publish(ev)
}
