package cookiejar_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/firasghr/chromefp/cookiejar"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestAbsorbResponse_AttachToRequest_RoundTrip(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/path")

	j.AbsorbResponse(u, []string{"session=abc123; Path=/; Domain=example.test"})

	got := j.AttachToRequest(u)
	if got != "session=abc123" {
		t.Errorf("AttachToRequest: got %q, want %q", got, "session=abc123")
	}
}

func TestAttachToRequest_DomainScoping(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/")
	j.AbsorbResponse(u, []string{"a=1; Domain=example.test"})

	other := mustURL(t, "https://not-example.test/")
	if got := j.AttachToRequest(other); got != "" {
		t.Errorf("expected no cookie attached to unrelated host, got %q", got)
	}
}

func TestAttachToRequest_SecureCookieNotSentOverPlainHTTP(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/")
	j.AbsorbResponse(u, []string{"s=1; Secure"})

	plain := mustURL(t, "http://example.test/")
	if got := j.AttachToRequest(plain); got != "" {
		t.Errorf("expected Secure cookie withheld over plain HTTP, got %q", got)
	}
}

func TestAbsorbResponse_SameTripleReplaces(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/")
	j.AbsorbResponse(u, []string{"a=1; Path=/"})
	j.AbsorbResponse(u, []string{"a=2; Path=/"})

	if got := j.AttachToRequest(u); got != "a=2" {
		t.Errorf("expected replacement value, got %q", got)
	}
	if j.Len() != 1 {
		t.Errorf("expected exactly one stored cookie, got %d", j.Len())
	}
}

func TestAbsorbResponse_MaxAgeNegativeDeletes(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/")
	j.AbsorbResponse(u, []string{"a=1; Path=/"})
	j.AbsorbResponse(u, []string{"a=; Path=/; Max-Age=-1"})

	if j.Len() != 0 {
		t.Errorf("expected deletion cookie to remove the entry, got %d remaining", j.Len())
	}
}

func TestHasValidEdgeCookie(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/")

	if j.HasValidEdgeCookie(u) {
		t.Fatal("expected no edge cookie before any response absorbed")
	}

	j.AbsorbResponse(u, []string{"cf_clearance=XYZ; Domain=.example.test"})
	if !j.HasValidEdgeCookie(u) {
		t.Error("expected cf_clearance to be recognised as a valid edge cookie")
	}
}

func TestHasValidEdgeCookie_OrdinaryCookieNotTagged(t *testing.T) {
	j := cookiejar.New(0)
	u := mustURL(t, "https://example.test/")
	j.AbsorbResponse(u, []string{"session=abc"})

	if j.HasValidEdgeCookie(u) {
		t.Error("ordinary session cookie must not be treated as an edge cookie")
	}
}

func TestCapacity_EvictsLeastRecentlySet(t *testing.T) {
	j := cookiejar.New(2)
	u := mustURL(t, "https://example.test/")

	j.AbsorbResponse(u, []string{"a=1"})
	j.AbsorbResponse(u, []string{"b=1"})
	j.AbsorbResponse(u, []string{"c=1"})

	if j.Len() != 2 {
		t.Fatalf("expected capacity to cap stored cookies at 2, got %d", j.Len())
	}
	got := j.AttachToRequest(u)
	if got == "" {
		t.Fatal("expected remaining cookies to be attachable")
	}
	if strings.Contains(got, "a=1") {
		t.Errorf("expected least-recently-set cookie a to be evicted, got %q", got)
	}
}

func TestRegistrableDomain(t *testing.T) {
	cases := map[string]string{
		"www.example.com": "example.com",
		"example.co.uk":   "example.co.uk",
		"a.b.example.com": "example.com",
	}
	for host, want := range cases {
		t.Run(host, func(t *testing.T) {
			if got := cookiejar.RegistrableDomain(host); got != want {
				t.Errorf("RegistrableDomain(%q): got %q, want %q", host, got, want)
			}
		})
	}
}

func TestAttachToRequest_LongerPathFirst(t *testing.T) {
	j := cookiejar.New(0)
	root := mustURL(t, "https://example.test/")
	j.AbsorbResponse(root, []string{"a=root; Path=/"})
	j.AbsorbResponse(root, []string{"a=deep; Path=/deep"})

	got := j.AttachToRequest(mustURL(t, "https://example.test/deep/page"))
	want := "a=deep; a=root"
	if got != want {
		t.Errorf("AttachToRequest: got %q, want %q", got, want)
	}
}
