package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/firasghr/chromefp/cferrors"
	"github.com/firasghr/chromefp/fingerprint"
)

// Request is the wire-level request the Transport executes: a method, a
// target URL, a body, and the exact OrderedHeader the caller wants on the
// wire. Callers (normally the pipeline package) build the OrderedHeader with
// fingerprint.Profile.ComposeRequestHeaders before calling Execute; the
// Transport hands it to net/http through OrderedHeader.ApplyToRequest,
// whose documentation states which parts of casing and order reach the
// wire.
type Request struct {
	Method  string
	URL     *url.URL
	Body    []byte
	Headers *fingerprint.OrderedHeader
}

// Response is the wire-level result of one Execute call. Proto reports
// whether the connection negotiated "HTTP/2.0" or "HTTP/1.1" so callers
// can verify ALPN selection in tests.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Proto      string
}

// Transport executes single HTTP requests with a given FingerprintProfile's
// TLS and HTTP/2 wire shape, working from any catalog Profile rather than
// hardcoded version constants.
//
// Transport pools one http.RoundTripper per (profile name, proxy) pair, not
// one global shared transport, so that two Sessions running different
// profiles never cross-pollinate connections.
type Transport struct {
	mu                 sync.RWMutex
	roundTrippers      map[string]http.RoundTripper
	idleConnTimeout    time.Duration
	proxyURL           *url.URL
	insecureSkipVerify bool
}

// Config configures a Transport.
type Config struct {
	// IdleConnTimeout bounds how long a pooled connection sits idle before
	// eviction. Zero selects 90s.
	IdleConnTimeout time.Duration
	// ProxyURL optionally routes every dial through an HTTP CONNECT proxy.
	ProxyURL string
	// InsecureSkipVerify disables certificate verification. It exists for
	// tests that dial httptest's self-signed TLS servers and must never be
	// set from a loaded config.Config, which has no such field.
	InsecureSkipVerify bool
}

// New builds a Transport from cfg.
func New(cfg Config) (*Transport, error) {
	idle := cfg.IdleConnTimeout
	if idle == 0 {
		idle = 90 * time.Second
	}
	var proxyURL *url.URL
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("transport: parse proxy url %q: %w", cfg.ProxyURL, err)
		}
		proxyURL = u
	}
	return &Transport{
		roundTrippers:      make(map[string]http.RoundTripper),
		idleConnTimeout:    idle,
		proxyURL:           proxyURL,
		insecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

func (t *Transport) roundTripperFor(profile *fingerprint.Profile) (http.RoundTripper, error) {
	key := profile.Name

	t.mu.RLock()
	rt, ok := t.roundTrippers[key]
	t.mu.RUnlock()
	if ok {
		return rt, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rt, ok := t.roundTrippers[key]; ok {
		return rt, nil
	}
	rt, err := newRoundTripper(profile, t.idleConnTimeout, t.proxyURL, t.insecureSkipVerify)
	if err != nil {
		return nil, err
	}
	t.roundTrippers[key] = rt
	return rt, nil
}

// Execute performs a single HTTP request using profile's fingerprint and
// returns the response with no redirect following: the caller (the pipeline
// package) is responsible for inspecting 3xx responses, absorbing cookies
// via the cookie jar between hops, and re-invoking Execute up to the
// Session's follow_redirects limit. This keeps cookie capture between
// redirect hops visible to the caller.
//
// deadline, if non-zero, bounds DNS, TCP connect, TLS handshake, and frame
// I/O; exceeding it returns a *cferrors.DeadlineExceededError.
func (t *Transport) Execute(ctx context.Context, profile *fingerprint.Profile, req *Request, deadline time.Time) (*Response, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	rt, err := t.roundTripperFor(profile)
	if err != nil {
		return nil, &cferrors.TransportError{Op: "build round tripper", Retriable: false, Err: err}
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bodyReader)
	if err != nil {
		return nil, &cferrors.TransportError{Op: "build request", Retriable: false, Err: err}
	}
	if req.Headers != nil {
		req.Headers.ApplyToRequest(httpReq)
	}

	resp, err := rt.RoundTrip(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &cferrors.DeadlineExceededError{Op: "transport.Execute"}
		}
		return nil, &cferrors.TransportError{Op: "round trip", Retriable: isRetriable(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &cferrors.DeadlineExceededError{Op: "transport.Execute"}
		}
		return nil, &cferrors.TransportError{Op: "read body", Retriable: true, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Proto:      resp.Proto,
	}, nil
}

// idleConnectionCloser is implemented by *http.Transport and by the pack's
// HTTP/2-over-utls round trippers that embed one; Close uses it to drain
// pooled connections without caring which concrete round tripper a profile
// picked.
type idleConnectionCloser interface {
	CloseIdleConnections()
}

// Close drains idle connections from every round tripper this Transport has
// built, matching session/session.go's original Close, which called
// t.CloseIdleConnections() on its one bare *http.Transport. A Transport
// remains usable after Close; new requests simply redial.
func (t *Transport) Close() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rt := range t.roundTrippers {
		if closer, ok := rt.(idleConnectionCloser); ok {
			closer.CloseIdleConnections()
		}
	}
}

// isRetriable classifies a RoundTrip error as safe to retry for an
// idempotent request: connection resets and timeouts are, TLS certificate
// verification failures are not.
func isRetriable(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}
