package detector_test

import (
	"net/http"
	"testing"

	"github.com/firasghr/chromefp/detector"
)

func TestClassify_RateLimited(t *testing.T) {
	h := http.Header{}
	h.Set("cf-mitigated", "challenge")
	ev := detector.Classify(http.StatusTooManyRequests, h, nil, false)
	if ev.Kind != detector.RateLimited {
		t.Errorf("Kind: got %v, want RateLimited", ev.Kind)
	}
}

func TestClassify_RateLimited_WithoutHeader(t *testing.T) {
	ev := detector.Classify(http.StatusTooManyRequests, http.Header{}, nil, false)
	if ev.Kind != detector.RateLimited {
		t.Errorf("Kind: got %v, want RateLimited", ev.Kind)
	}
}

func TestClassify_JsInterstitial(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	body := []byte(`<html><script>window._cf_chl_opt = {cvId: '3'}; /cdn-cgi/challenge-platform/h/b/orchestrate/chl_page/v1</script></html>`)
	ev := detector.Classify(http.StatusForbidden, h, body, false)
	if ev.Kind != detector.JsInterstitial {
		t.Errorf("Kind: got %v, want JsInterstitial", ev.Kind)
	}
}

func TestClassify_JsInterstitial_RequiresBothMarkers(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	body := []byte(`<html><script>window._cf_chl_opt = {}</script></html>`)
	ev := detector.Classify(http.StatusForbidden, h, body, false)
	if ev.Kind == detector.JsInterstitial {
		t.Error("expected no JsInterstitial classification without the cdn-cgi marker")
	}
}

func TestClassify_JsInterstitial_RequiresCloudflareServerHeader(t *testing.T) {
	body := []byte(`<html><script>window._cf_chl_opt = {}; /cdn-cgi/challenge-platform/</script></html>`)
	ev := detector.Classify(http.StatusForbidden, http.Header{}, body, false)
	if ev.Kind == detector.JsInterstitial {
		t.Error("expected no JsInterstitial classification without the server: cloudflare header")
	}
}

func TestClassify_Interactive(t *testing.T) {
	body := []byte(`<html><body><div class="cf-turnstile" data-sitekey="x"></div></body></html>`)
	ev := detector.Classify(http.StatusOK, http.Header{}, body, false)
	if ev.Kind != detector.Interactive {
		t.Errorf("Kind: got %v, want Interactive", ev.Kind)
	}
}

func TestClassify_ManagedWait(t *testing.T) {
	body := []byte(`<html><body><div id="cf-chl-widget-abcd"></div></body></html>`)
	ev := detector.Classify(http.StatusServiceUnavailable, http.Header{}, body, false)
	if ev.Kind != detector.ManagedWait {
		t.Errorf("Kind: got %v, want ManagedWait", ev.Kind)
	}
}

func TestClassify_None(t *testing.T) {
	ev := detector.Classify(http.StatusOK, http.Header{}, []byte("<html>hello</html>"), false)
	if ev.Kind != detector.None {
		t.Errorf("Kind: got %v, want None", ev.Kind)
	}
}

func TestClassify_IncompleteEvidencePropagated(t *testing.T) {
	ev := detector.Classify(http.StatusOK, http.Header{}, []byte("<html>"), true)
	if !ev.Incomplete {
		t.Error("expected Incomplete to be true when the caller signals a truncated body")
	}
}

func TestClassify_PrecedenceRateLimitedBeforeInterstitial(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	body := []byte(`window._cf_chl_opt = {}; /cdn-cgi/challenge-platform/`)
	ev := detector.Classify(http.StatusTooManyRequests, h, body, false)
	if ev.Kind != detector.RateLimited {
		t.Errorf("Kind: got %v, want RateLimited (rule 1 must win over rule 2)", ev.Kind)
	}
}
