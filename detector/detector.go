// Package detector classifies one HTTP response into a ChallengeKind using
// status code, headers, and body markers, precedence-ordered so the first
// matching rule wins. Each rule scans the body for its own substring
// marker, so a body can be scanned more than once.
//
// The interactive rule also needs structural DOM evidence (a turnstile
// widget), so a body that contains "cf-turnstile" is parsed once with
// github.com/PuerkitoBio/goquery; the managed-challenge rule is a plain
// substring match.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind is the tagged variant a response is classified into: a closed set
// of string constants and a single total classification function, rather
// than class-based dynamic dispatch over challenge types.
type Kind string

const (
	None           Kind = "None"
	JsInterstitial Kind = "JsInterstitial"
	Interactive    Kind = "Interactive"
	ManagedWait    Kind = "ManagedWait"
	RateLimited    Kind = "RateLimited"
)

// MinScanBytes is the minimum body prefix the caller must supply before
// Classify's "evidence incomplete" flag can be trusted absent: at least
// 16 KiB, extending to the full body if content length allows.
const MinScanBytes = 16 * 1024

// Evidence describes which markers fired during classification and whether
// the body available to Classify was a truncated prefix, in which case a
// None result may be a false negative rather than a confirmed absence of a
// challenge.
type Evidence struct {
	Kind       Kind
	Markers    []string
	Incomplete bool
}

const (
	markerCdnCgiChallengePlatform = "/cdn-cgi/challenge-platform/"
	markerCfChlOpt                = "window._cf_chl_opt"
	markerManagedWidgetIDPrefix   = "cf-chl-widget-"
)

// Classify applies five precedence-ordered rules.
//
//  1. status 429, optionally confirmed by header cf-mitigated: challenge  -> RateLimited.
//  2. status 403, header server: cloudflare, and both cdn-cgi/challenge-platform
//     and window._cf_chl_opt present in body                              -> JsInterstitial.
//  3. body contains a cf-turnstile DOM element                            -> Interactive.
//  4. status 503 and body contains a managed-challenge widget id          -> ManagedWait.
//  5. otherwise                                                          -> None.
//
// bodyTruncated must be true when body is a prefix shorter than the full
// response (the caller read at most MinScanBytes, or less if the response
// was smaller); Classify propagates this into Evidence.Incomplete so the
// Solver can distinguish a confirmed None from an inconclusive scan.
func Classify(statusCode int, header http.Header, body []byte, bodyTruncated bool) Evidence {
	ev := Evidence{Kind: None, Incomplete: bodyTruncated}

	if statusCode == http.StatusTooManyRequests {
		ev.Kind = RateLimited
		ev.Markers = append(ev.Markers, "status=429")
		if strings.EqualFold(header.Get("cf-mitigated"), "challenge") {
			ev.Markers = append(ev.Markers, "cf-mitigated=challenge")
		}
		return ev
	}

	hasCdnCgi := bytes.Contains(body, []byte(markerCdnCgiChallengePlatform))
	hasCfChlOpt := bytes.Contains(body, []byte(markerCfChlOpt))
	if statusCode == http.StatusForbidden &&
		strings.EqualFold(header.Get("server"), "cloudflare") &&
		hasCdnCgi && hasCfChlOpt {
		ev.Kind = JsInterstitial
		ev.Markers = append(ev.Markers, "status=403", "server=cloudflare", markerCdnCgiChallengePlatform, markerCfChlOpt)
		return ev
	}

	if hasTurnstileMarker(body) {
		ev.Kind = Interactive
		ev.Markers = append(ev.Markers, "cf-turnstile")
		return ev
	}

	if statusCode == http.StatusServiceUnavailable && bytes.Contains(body, []byte(markerManagedWidgetIDPrefix)) {
		ev.Kind = ManagedWait
		ev.Markers = append(ev.Markers, "status=503", markerManagedWidgetIDPrefix)
		return ev
	}

	return ev
}

// hasTurnstileMarker reports whether body contains an element carrying the
// cf-turnstile class or a g-recaptcha-compatible data-sitekey attribute on
// a cf-turnstile-tagged container, parsed once via goquery rather than a
// brittle substring match, since class lists can carry multiple
// whitespace-separated tokens in any order.
func hasTurnstileMarker(body []byte) bool {
	if !bytes.Contains(body, []byte("cf-turnstile")) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Malformed HTML: fall back to the substring match already
		// performed above, which is conservative (it only returns here
		// when "cf-turnstile" literally occurs in the body).
		return true
	}
	return doc.Find(".cf-turnstile, [class*=\"cf-turnstile\"]").Length() > 0
}
