// Package session provides the Session type: the fundamental unit of the
// engine. A Session composes one shared
// FingerprintProfile, one CookieJar, a Rate Limiter, an optional origin
// whitelist, and a Challenge Solver behind the Request Pipeline, so every
// request issued through it is byte-fingerprint-consistent and
// challenge-aware without the caller orchestrating any of that by hand.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/cookiejar"
	"github.com/firasghr/chromefp/events"
	"github.com/firasghr/chromefp/fingerprint"
	"github.com/firasghr/chromefp/gate"
	"github.com/firasghr/chromefp/pipeline"
	"github.com/firasghr/chromefp/ratelimit"
	"github.com/firasghr/chromefp/sandbox"
	"github.com/firasghr/chromefp/solver"
	"github.com/firasghr/chromefp/transport"
)

// State is a Session's lifecycle state: idle, active, or closed. A closed
// type rather than a bare string, so a typo can't silently create a
// fourth state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StateClosed State = "closed"
)

// Snapshot is a debug/export view of a Session's state: no persistence
// guarantees, safe to serialize for logging.
type Snapshot struct {
	ID               string
	Profile          string
	State            State
	CreatedAt        time.Time
	LastActivity     time.Time
	RequestsIssued   int64
	ChallengesSeen   int64
	ChallengesSolved int64
	CookiesStored    int
}

// Session is one independent automation unit. Construction does no network
// I/O: a Session is cheap enough to create per-task, since it only builds
// in-memory structures (a jar, a token bucket map, a permit channel) and
// resolves a profile from the process-wide catalog.
//
// Session is safe for concurrent use: all mutable bookkeeping (state,
// lastActivity, counters) is behind atomics or a narrow mutex.
type Session struct {
	ID      string
	profile *fingerprint.Profile
	jar     *cookiejar.Jar

	whitelist map[string]struct{} // nil means unrestricted
	pipeline  *pipeline.Pipeline
	bus       *events.Bus

	mu           sync.RWMutex
	state        State
	createdAt    time.Time
	lastActivity time.Time

	requestsIssued   atomic.Int64
	challengesSeen   atomic.Int64
	challengesSolved atomic.Int64
}

// Option configures optional Session construction parameters beyond what
// config.Config carries.
type Option func(*options)

type options struct {
	proxyURL            string
	interactiveResolver solver.ExternalResolver
	bus                 *events.Bus
	insecureSkipVerify  bool
}

// WithProxy routes every connection this Session's Transport dials through
// an upstream HTTP CONNECT proxy, overriding cfg.ProxyURL if both are set.
// SOCKS5 proxies are not supported.
func WithProxy(proxyURL string) Option {
	return func(o *options) { o.proxyURL = proxyURL }
}

// WithInteractiveResolver installs the pluggable Turnstile resolver
// callback. It only takes effect when cfg.ChallengeSolve is
// config.SolveExternalInteractive; otherwise Interactive challenges fail
// fast, as config.SolveAuto's default behavior describes.
func WithInteractiveResolver(fn solver.ExternalResolver) Option {
	return func(o *options) { o.interactiveResolver = fn }
}

// WithInsecureSkipVerify disables certificate verification on this
// Session's Transport. It exists only for tests that dial httptest's
// self-signed TLS servers, mirroring transport.Config's own
// InsecureSkipVerify field; a loaded config.Config has no path to set it.
func WithInsecureSkipVerify() Option {
	return func(o *options) { o.insecureSkipVerify = true }
}

// WithEventBus attaches an existing events.Bus instead of letting New
// allocate a private one, so callers can fan the typed event stream out
// across several Sessions that share one subscriber set.
func WithEventBus(bus *events.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// New constructs a Session from cfg.
// cfg is validated if it has not been already; construction fails only on
// an invalid config or an unknown profile name -- no network activity is
// performed.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	profile, err := fingerprint.Get(cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	proxyURL := cfg.ProxyURL
	if o.proxyURL != "" {
		proxyURL = o.proxyURL
	}
	tr, err := transport.New(transport.Config{
		IdleConnTimeout:    cfg.IdleConnectionTimeout.Duration,
		ProxyURL:           proxyURL,
		InsecureSkipVerify: o.insecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("session: build transport: %w", err)
	}

	resolver := o.interactiveResolver
	if cfg.ChallengeSolve != config.SolveExternalInteractive {
		resolver = nil
	}

	sv := solver.New(solver.Config{
		ExternalResolver: resolver,
		SandboxLimits: sandbox.Limits{
			MemoryBytes: cfg.SandboxMemoryLimit,
			WallTime:    cfg.SandboxWallTime.Duration,
		},
	})

	bus := o.bus
	if bus == nil {
		bus = events.New()
	}

	pl := pipeline.New(pipeline.Config{
		FollowRedirects:         cfg.FollowRedirects,
		DefaultDeadline:         cfg.DefaultDeadline.Duration,
		DisableChallengeSolving: cfg.ChallengeSolve == config.SolveOff,
	}, gate.New(cfg.MaxConcurrency), ratelimit.New(cfg.RatePerSecond, cfg.RateBurst), tr, sv, bus)

	var whitelist map[string]struct{}
	if len(cfg.OriginWhitelist) > 0 {
		whitelist = make(map[string]struct{}, len(cfg.OriginWhitelist))
		for _, host := range cfg.OriginWhitelist {
			whitelist[host] = struct{}{}
		}
	}

	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		profile:      profile,
		jar:          cookiejar.New(0),
		whitelist:    whitelist,
		pipeline:     pl,
		bus:          bus,
		state:        StateIdle,
		createdAt:    now,
		lastActivity: now,
	}, nil
}

// Request is the public per-call shape: method, target URL, header
// overrides, an optional body, and an optional deadline override.
type Request struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
	Deadline time.Time // zero selects the Session's default_deadline
}

// Request executes one request through the pipeline, updating this
// Session's activity timestamp and counters. It rejects a host outside the
// configured origin whitelist before any network activity
// (cferrors.OriginDeniedError).
func (s *Session) Request(ctx context.Context, req Request) (*pipeline.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("session %s: parse url %q: %w", s.ID, req.URL, err)
	}

	s.markActive()
	s.requestsIssued.Add(1)

	resp, err := s.pipeline.Execute(ctx, s.ID, s.profile, s.jar, s.whitelist, pipeline.Request{
		Method:   orDefault(req.Method, http.MethodGet),
		URL:      u,
		Headers:  req.Headers,
		Body:     req.Body,
		Deadline: req.Deadline,
	})
	s.updateLastActivity()

	if resp != nil && resp.Challenge != nil {
		s.challengesSeen.Add(1)
		if resp.Challenge.Success {
			s.challengesSolved.Add(1)
		}
	}
	return resp, err
}

// BatchItem pairs one Batch input with its outcome, preserving the input
// index so callers can correlate Response/Err back to the original Request
// even though requests complete out of order.
type BatchItem struct {
	Response *pipeline.Response
	Err      error
}

// Batch executes requests concurrently and returns their outcomes in the
// same order as the input, subject to this Session's own concurrency and
// rate controls: the Gate and RateLimiter threaded through the shared
// Pipeline throttle actual execution, so Batch itself only needs to fan
// out one goroutine per request and collect results by index.
func (s *Session) Batch(ctx context.Context, requests []Request) []BatchItem {
	results := make([]BatchItem, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			resp, err := s.Request(ctx, req)
			results[i] = BatchItem{Response: resp, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}

// markActive transitions an idle Session to active on its first request.
func (s *Session) markActive() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateActive
	}
	s.mu.Unlock()
}

// updateLastActivity records the current time as this Session's most
// recent activity, matching session/session.go's UpdateLastActivity.
func (s *Session) updateLastActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Close transitions the Session to closed and releases its Transport's
// pooled connections. After Close returns, the Session must not be used.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.pipeline.Close()
}

// Snapshot returns a point-in-time debug/export view of the Session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:               s.ID,
		Profile:          s.profile.Name,
		State:            s.state,
		CreatedAt:        s.createdAt,
		LastActivity:     s.lastActivity,
		RequestsIssued:   s.requestsIssued.Load(),
		ChallengesSeen:   s.challengesSeen.Load(),
		ChallengesSolved: s.challengesSolved.Load(),
		CookiesStored:    s.jar.Len(),
	}
}

// Events returns the Session's event subscription channel, or nil if the
// Session shares no bus a caller can subscribe to (it always has one; this
// exists so callers don't need to thread the bus through separately).
func (s *Session) Events() <-chan events.Event {
	return s.bus.Subscribe()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
