// Package fingerprint provides the Profile type: an immutable, named bundle
// of TLS and HTTP fingerprint data (cipher suites, TLS extension order,
// HTTP/2 SETTINGS, and a default header template) that the fingerprint-
// preserving transport applies so every byte on the wire matches a named
// Chrome build.
//
// A Profile is pure data plus the deterministic assembly rule
// ComposeRequestHeaders; it never mutates once built, matching the
// invariant that a Session's FingerprintProfile never mutates -- any
// refresh creates a new Session.
package fingerprint

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	utls "github.com/refraction-networking/utls"
)

// H2Settings holds the HTTP/2 SETTINGS frame values a profile advertises,
// plus the connection-level flow-control WINDOW_UPDATE sent immediately
// after the client preface.
type H2Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    int32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
	ConnWindowSize       int32
}

// PseudoHeaderOrder lists the HTTP/2 pseudo-header names in wire order.
// Chrome sends :method, :authority, :scheme, :path, but the
// golang.org/x/net/http2 package writes pseudo-headers in a fixed internal
// order and exposes no API for reordering them. This field documents the
// target order for integrators who need that level of precision; achieving
// exact wire-level fidelity here would require a patched http2 package.
type PseudoHeaderOrder []string

// Profile is an immutable, named fingerprint: the exact bytes and ordering
// rules for one browser build's ClientHello, HTTP/2 SETTINGS, and default
// request headers.
type Profile struct {
	// Name is the catalog key, e.g. "chrome-124-desktop-windows".
	Name string

	// ChromeMajorVersion is the Chrome major version this profile parrots.
	ChromeMajorVersion int

	// HelloID selects the uTLS ClientHelloSpec used for the TLS handshake.
	HelloID utls.ClientHelloID

	// AllowSessionResumption enables TLS session-ticket (PSK) resumption.
	// Disabled by default: resumed and full handshakes have
	// different ClientHello shapes, so leaving this off keeps every
	// handshake byte-for-byte identical to the golden profile.
	AllowSessionResumption bool

	H2Settings H2Settings

	PseudoHeaders PseudoHeaderOrder

	// HeaderTemplate is the default header set, in exact order and casing,
	// applied to every request before per-request overrides.
	HeaderTemplate *OrderedHeader

	// UserAgent is kept alongside the template for convenience and for
	// sandbox/navigator shims that need it outside the header path.
	UserAgent string
}

// ClientHelloSpec returns the uTLS ClientHelloSpec for this profile's
// HelloID: the ordered cipher list, extension list (with GREASE values),
// and key-share groups that the TLS dialer applies verbatim.
func (p *Profile) ClientHelloSpec() (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(p.HelloID)
	if err != nil {
		return utls.ClientHelloSpec{}, fmt.Errorf("fingerprint: resolve ClientHelloSpec for %s: %w", p.HelloID.Str(), err)
	}
	return spec, nil
}

// Clone returns a deep-enough copy of the profile safe to hand to a new
// Session: the HeaderTemplate (the only mutable-looking field) is cloned,
// everything else is small value data or immutable per the uTLS contract.
func (p *Profile) Clone() *Profile {
	c := *p
	c.HeaderTemplate = p.HeaderTemplate.Clone()
	ph := make(PseudoHeaderOrder, len(p.PseudoHeaders))
	copy(ph, p.PseudoHeaders)
	c.PseudoHeaders = ph
	return &c
}

var (
	catalogMu sync.RWMutex
	catalog   = map[string]*Profile{
		"chrome-124-desktop-windows": chrome124DesktopWindows(),
		"chrome-120-desktop-windows": chrome120DesktopWindows(),
	}
)

// Get returns the named built-in profile. The returned Profile must not be
// mutated by the caller; call Clone first if mutation is needed.
func Get(name string) (*Profile, error) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	p, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("fingerprint: unknown profile %q", name)
	}
	return p, nil
}

// Register adds or replaces a named profile in the process-wide catalog.
// Intended for callers extending the built-in set with additional Chrome
// builds; adding a profile is a data-only extension, never a code change.
func Register(p *Profile) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[p.Name] = p
}

// chrome124DesktopWindows ships as the primary profile. uTLS v1.8.2 has no
// dedicated Chrome 124 ClientHelloSpec; Chrome's ClientHello shape has been
// extension-stable across 120-124 for every field this module controls
// (cipher list, supported_groups, signature_algorithms, ALPN, key_share
// groups), so the Chrome 120 parrot table is reused as the wire basis while
// the header template and User-Agent carry the 124 version string. This
// mirrors the same fallback used for profiles with no dedicated parrot
// table: reuse the nearest upstream ClientHelloSpec and let the header
// template carry the version-specific strings.
func chrome124DesktopWindows() *Profile {
	h := &OrderedHeader{}
	h.Add("sec-ch-ua", `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`)
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("sec-ch-ua-platform", `"Windows"`)
	h.Add("Upgrade-Insecure-Requests", "1")
	h.Add("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	h.Add("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Add("Sec-Fetch-Site", "none")
	h.Add("Sec-Fetch-Mode", "navigate")
	h.Add("Sec-Fetch-User", "?1")
	h.Add("Sec-Fetch-Dest", "document")
	h.Add("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Add("Accept-Language", "en-US,en;q=0.9")

	return &Profile{
		Name:               "chrome-124-desktop-windows",
		ChromeMajorVersion: 124,
		HelloID:            utls.HelloChrome_120,
		H2Settings: H2Settings{
			HeaderTableSize:      65536,
			EnablePush:           false,
			MaxConcurrentStreams: 1000,
			InitialWindowSize:    6291456,
			MaxFrameSize:         16384,
			MaxHeaderListSize:    262144,
			ConnWindowSize:       15663105,
		},
		PseudoHeaders:  PseudoHeaderOrder{":method", ":authority", ":scheme", ":path"},
		HeaderTemplate: h,
		UserAgent:      h.Get("User-Agent"),
	}
}

// chrome120DesktopWindows is the literal uTLS-native baseline: it has an
// exact upstream golden-byte source (utls.HelloChrome_120 itself), so
// golden-byte tests can assert against the library's own spec without the
// 124 profile's documented substitution.
func chrome120DesktopWindows() *Profile {
	p := chrome124DesktopWindows()
	p.Name = "chrome-120-desktop-windows"
	p.ChromeMajorVersion = 120
	h := p.HeaderTemplate
	h.Set("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	p.UserAgent = h.Get("User-Agent")
	return p
}

// ComposeRequestHeaders assembles the final header set for one request:
//
//  1. start with the profile's default template;
//  2. substitute Host from the URL;
//  3. if a body is present and the caller did not set Content-Length or
//     Transfer-Encoding, set Content-Length;
//  4. apply user overrides last, preserving the position of any header
//     already in the template;
//  5. never lowercase a header the profile specifies with mixed case.
//
// overrides is applied in sorted key order, so headers not already in the
// template (new headers) are appended in that order and two calls with the
// same overrides produce byte-identical results.
func (p *Profile) ComposeRequestHeaders(target *url.URL, method string, contentLength int64, bodyPresent bool, overrides map[string]string) *OrderedHeader {
	h := p.HeaderTemplate.Clone()

	host := target.Host
	if h.Has("Host") {
		h.SetPreservingPosition("Host", host)
	}

	if bodyPresent {
		_, hasCL := overrides["Content-Length"]
		_, hasTE := overrides["Transfer-Encoding"]
		if !hasTE {
			if !hasCL && !h.Has("Content-Length") {
				h.Add("Content-Length", strconv.FormatInt(contentLength, 10))
			} else if !hasCL && h.Has("Content-Length") {
				h.SetPreservingPosition("Content-Length", strconv.FormatInt(contentLength, 10))
			}
		}
	}

	newKeys := make([]string, 0, len(overrides))
	for k := range overrides {
		newKeys = append(newKeys, k)
	}
	sort.Strings(newKeys)

	for _, k := range newKeys {
		v := overrides[k]
		if h.Has(k) {
			h.SetPreservingPosition(k, v)
		} else {
			h.Add(k, v)
		}
	}
	return h
}
