package transport

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/firasghr/chromefp/fingerprint"
)

// newRoundTripper builds an http.RoundTripper for one (profile, proxy) pair.
// It wires golang.org/x/net/http2's ConfigureTransports onto a base
// http.Transport whose DialTLSContext is the uTLS handshake from dialer.go:
// when ALPN negotiates "h2" the connection is promoted to HTTP/2
// automatically, otherwise the base http.Transport continues the request
// over the same TLS connection as HTTP/1.1: real Chrome negotiates
// per-connection, and origins that don't offer h2 must still get the
// Chrome header order and TLS fingerprint over HTTP/1.1.
func newRoundTripper(profile *fingerprint.Profile, idleConnTimeout time.Duration, proxyURL *url.URL, insecureSkipVerify bool) (http.RoundTripper, error) {
	t1 := &http.Transport{
		DialTLSContext:        dialTLSFunc(profile, proxyURL),
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecureSkipVerify}, // #nosec G402 -- only honored in tests
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       200,
		DisableCompression:    false,
		// MaxReceiveBufferPerStream/PerConnection are what ConfigureTransports
		// turns into SETTINGS_INITIAL_WINDOW_SIZE and the connection-level
		// WINDOW_UPDATE -- the most distinctive values in Chrome's HTTP/2
		// fingerprint, so these must come from the profile, not the http2
		// package's stdlib defaults.
		HTTP2: &http.HTTP2Config{
			MaxReceiveBufferPerStream:     int(profile.H2Settings.InitialWindowSize),
			MaxReceiveBufferPerConnection: int(profile.H2Settings.ConnWindowSize),
		},
	}

	t2, err := http2.ConfigureTransports(t1)
	if err != nil {
		return nil, err
	}
	t2.MaxEncoderHeaderTableSize = profile.H2Settings.HeaderTableSize
	t2.MaxDecoderHeaderTableSize = profile.H2Settings.HeaderTableSize
	t2.MaxHeaderListSize = profile.H2Settings.MaxHeaderListSize
	t2.MaxReadFrameSize = profile.H2Settings.MaxFrameSize
	t2.ReadIdleTimeout = 15 * time.Second

	return t1, nil
}
