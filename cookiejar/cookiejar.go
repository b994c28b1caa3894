// Package cookiejar implements RFC 6265 cookie storage scoped per session,
// registrable-domain aware via golang.org/x/net/publicsuffix, plus one
// enrichment on top of a stock jar: tagging cookies whose name matches a
// known Cloudflare edge-cookie set so the Solver can tell a still-valid
// clearance cookie from an ordinary session cookie without re-parsing the
// jar.
package cookiejar

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// edgeCookieNames are cookie names known to carry a prior challenge
// solution. A tagged, non-expired cookie by this name is the signal the
// Solver uses to skip a redundant solve.
var edgeCookieNames = map[string]bool{
	"cf_clearance": true,
	"__cf_bm":      true,
}

// Cookie is one stored cookie plus the bookkeeping the jar needs for
// eviction and edge-cookie recognition.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero means session cookie, never expires by time
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	Tagged   bool // true if Name is a known edge-cookie name
	LastSet  time.Time
}

func (c *Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// key is the (name, domain, path) triple that must be unique within a jar.
type key struct {
	name, domain, path string
}

// Jar is an RFC 6265 cookie store keyed by the (name, domain, path) triple,
// with a capacity bound enforced by evicting the least-recently-set cookie.
// Jar is safe for concurrent use: every mutation and the attach-to-request
// read both take the same mutex, so reads always observe a consistent
// snapshot.
type Jar struct {
	mu       sync.Mutex
	cookies  map[key]*Cookie
	capacity int
}

// DefaultCapacity is the per-jar cookie ceiling.
const DefaultCapacity = 1000

// New returns an empty Jar. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Jar {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Jar{
		cookies:  make(map[key]*Cookie),
		capacity: capacity,
	}
}

func registrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// IP literals and single-label hosts fail EffectiveTLDPlusOne; treat
		// the host itself as its own registrable domain.
		return host
	}
	return etld1
}

func domainMatches(cookieDomain, host string) bool {
	cookieDomain = strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host == cookieDomain || strings.HasSuffix(host, "."+cookieDomain)
}

func pathMatches(cookiePath, reqPath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if reqPath == cookiePath {
		return true
	}
	if strings.HasPrefix(reqPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
	}
	return false
}

// AbsorbResponse parses every Set-Cookie header value from a response to u
// and merges each into the jar, replacing any existing cookie with the same
// (name, domain, path) triple. Cookies whose Domain
// attribute does not cover u's host are rejected, matching RFC 6265's
// same-origin cookie-setting rule.
func (j *Jar) AbsorbResponse(u *url.URL, setCookieHeaders []string) {
	if len(setCookieHeaders) == 0 {
		return
	}
	now := time.Now()
	header := http.Header{"Set-Cookie": setCookieHeaders}
	resp := &http.Response{Header: header}
	parsed := resp.Cookies()

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, pc := range parsed {
		domain := pc.Domain
		if domain == "" {
			domain = u.Hostname()
		} else if !domainMatches(domain, u.Hostname()) {
			continue
		}
		path := pc.Path
		if path == "" {
			path = "/"
		}

		k := key{name: pc.Name, domain: strings.ToLower(strings.TrimPrefix(domain, ".")), path: path}
		c := &Cookie{
			Name:     pc.Name,
			Value:    pc.Value,
			Domain:   k.domain,
			Path:     path,
			Secure:   pc.Secure,
			HTTPOnly: pc.HttpOnly,
			SameSite: pc.SameSite,
			Tagged:   edgeCookieNames[pc.Name],
			LastSet:  now,
		}
		if pc.MaxAge > 0 {
			c.Expires = now.Add(time.Duration(pc.MaxAge) * time.Second)
		} else if !pc.Expires.IsZero() {
			c.Expires = pc.Expires
		}
		if pc.MaxAge < 0 {
			delete(j.cookies, k)
			continue
		}

		j.cookies[k] = c
	}

	j.evictLocked(now)
}

// evictLocked removes expired cookies, then evicts least-recently-set
// cookies until the jar is at or under capacity. Callers must hold j.mu.
func (j *Jar) evictLocked(now time.Time) {
	for k, c := range j.cookies {
		if c.expired(now) {
			delete(j.cookies, k)
		}
	}
	for len(j.cookies) > j.capacity {
		var oldestKey key
		var oldestTime time.Time
		first := true
		for k, c := range j.cookies {
			if first || c.LastSet.Before(oldestTime) {
				oldestKey = k
				oldestTime = c.LastSet
				first = false
			}
		}
		delete(j.cookies, oldestKey)
	}
}

// AttachToRequest returns the Cookie header value for a request to u: every
// stored, non-expired cookie whose domain and path match, in RFC 6265's
// longer-path-first order, joined as "name=value; name2=value2".
func (j *Jar) AttachToRequest(u *url.URL) string {
	now := time.Now()
	host := u.Hostname()
	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}
	secure := u.Scheme == "https"

	j.mu.Lock()
	matches := make([]*Cookie, 0, 8)
	for _, c := range j.cookies {
		if c.expired(now) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		if !domainMatches(c.Domain, host) {
			continue
		}
		if !pathMatches(c.Path, reqPath) {
			continue
		}
		matches = append(matches, c)
	}
	j.mu.Unlock()

	if len(matches) == 0 {
		return ""
	}

	for i := 0; i < len(matches); i++ {
		for k := i + 1; k < len(matches); k++ {
			if len(matches[k].Path) > len(matches[i].Path) {
				matches[i], matches[k] = matches[k], matches[i]
			}
		}
	}

	var b strings.Builder
	for i, c := range matches {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}

// HasValidEdgeCookie reports whether the jar holds a non-expired, tagged
// edge cookie (cf_clearance, __cf_bm) scoped to u's host. The Solver uses
// this to skip re-solving a challenge it already has a valid clearance for.
func (j *Jar) HasValidEdgeCookie(u *url.URL) bool {
	now := time.Now()
	host := u.Hostname()

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.cookies {
		if !c.Tagged || c.expired(now) {
			continue
		}
		if domainMatches(c.Domain, host) {
			return true
		}
	}
	return false
}

// RegistrableDomain exposes the public-suffix-aware registrable domain
// computation so callers (e.g. the Solver's per-origin single-flight map)
// key by the same scope the jar itself uses.
func RegistrableDomain(host string) string {
	return registrableDomain(host)
}

// Len returns the number of cookies currently stored, for tests and
// snapshot/introspection callers.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cookies)
}
