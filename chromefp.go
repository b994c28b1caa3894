// Package chromefp is a programmable HTTP client that reproduces Chrome's
// TLS and HTTP/2 wire fingerprint, detects and solves Cloudflare-style
// JavaScript, interactive, and managed-wait challenges, and maintains
// per-session cookie state across the interception, all behind one
// Session type with bounded concurrency and adaptive rate limiting built
// in.
//
// NewSession is the only entry point most callers need:
//
//	s, err := chromefp.NewSession(config.DefaultConfig())
//	resp, err := s.Request(ctx, session.Request{Method: "GET", URL: target})
//
// No worker pool or scheduler is needed to bound concurrency, since each
// Session carries its own Gate and RateLimiter and a Session is cheap
// enough to construct directly.
package chromefp

import (
	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/events"
	"github.com/firasghr/chromefp/session"
	"github.com/firasghr/chromefp/solver"
)

// InteractiveResolver is the pluggable callback: given a Turnstile site
// key and the challenge page's URL, it returns a solved token or an
// error. It is only consulted when a Session's ChallengeSolve mode is
// config.SolveExternalInteractive. Re-exported from
// solver.ExternalResolver so callers need only import this package and
// config to wire one in.
type InteractiveResolver = solver.ExternalResolver

// Session is the fundamental automation unit: one FingerprintProfile, one
// CookieJar, and the admission-control and challenge-solving machinery
// behind it. Re-exported from session.Session so callers rarely need to
// import the session package directly.
type Session = session.Session

// Request is one call into a Session. Re-exported from session.Request.
type Request = session.Request

// Manager owns a fleet of Sessions built from one shared config, assigning
// each the next proxy from an optional rotation. Re-exported from
// session.Manager.
type Manager = session.Manager

// EventBus fans the typed event stream (RequestStarted, ChallengeDetected,
// ChallengeSolved, ChallengeFailed, RateLimitAdjusted, RequestCompleted)
// out to subscribers. Re-exported from events.Bus.
type EventBus = events.Bus

// NewSession constructs a Session from cfg. opts configures the pieces
// left pluggable beyond the JSON config surface: a proxy (WithProxy), an
// interactive-challenge resolver (WithInteractiveResolver), or a shared
// event bus (WithEventBus).
func NewSession(cfg *config.Config, opts ...session.Option) (*Session, error) {
	return session.New(cfg, opts...)
}

// NewManager returns an empty Manager that builds Sessions from cfg,
// fanning construction out across CreateSessions calls. bus may be nil.
func NewManager(cfg *config.Config, bus *EventBus) *Manager {
	return session.NewManager(cfg, bus)
}
