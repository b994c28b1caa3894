package solver

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// knownFieldNames are the hidden challenge form fields the extraction
// contract names explicitly ("r", "jschl_vc", "pass"), plus "jschl_answer",
// the answer field name of the public Cloudflare IUAM protocol this
// challenge type reproduces -- used as a fallback when the form carries no
// "r" field for the computed answer to go in.
var knownFieldNames = []string{"r", "jschl_vc", "pass", "jschl_answer"}

// extracted is the parsed challenge form: enough to evaluate its script and
// resubmit its answer to the edge.
type extracted struct {
	script      string
	actionURL   *url.URL
	fields      map[string]string
	answerField string
}

// extractChallenge pulls the inline script body, the form action URL, and
// the known hidden field names out of a JsInterstitial challenge page.
func extractChallenge(body []byte, base *url.URL) (*extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("solver: parse challenge html: %w", err)
	}

	form := doc.Find("form").First()
	if form.Length() == 0 {
		return nil, fmt.Errorf("solver: no challenge form found")
	}
	action, _ := form.Attr("action")
	if action == "" {
		return nil, fmt.Errorf("solver: challenge form has no action")
	}
	actionURL, err := base.Parse(action)
	if err != nil {
		return nil, fmt.Errorf("solver: resolve form action %q: %w", action, err)
	}

	fields := make(map[string]string)
	form.Find("input").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok {
			return
		}
		for _, known := range knownFieldNames {
			if name == known {
				val, _ := s.Attr("value")
				fields[name] = val
				return
			}
		}
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("solver: no recognised challenge fields in form")
	}

	answerField := ""
	for _, name := range []string{"r", "jschl_answer"} {
		if _, ok := fields[name]; ok {
			answerField = name
			break
		}
	}
	if answerField == "" {
		answerField = "jschl_answer"
	}

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, hasSrc := s.Attr("src"); hasSrc {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			scripts = append(scripts, text)
		}
	})
	if len(scripts) == 0 {
		return nil, fmt.Errorf("solver: no inline challenge script found")
	}

	return &extracted{
		script:      strings.Join(scripts, "\n"),
		actionURL:   actionURL,
		fields:      fields,
		answerField: answerField,
	}, nil
}

// extractSiteKey best-effort pulls a Turnstile widget's data-sitekey
// attribute out of an Interactive challenge page, for the
// ExternalResolver(siteKey, challengeURL) callback contract.
// Returns "" if no sitekey attribute is found.
func extractSiteKey(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	sel := doc.Find("[class*=\"cf-turnstile\"][data-sitekey], .cf-turnstile[data-sitekey]").First()
	key, _ := sel.Attr("data-sitekey")
	return key
}

// buildResubmitURL appends fields as a query string onto actionURL, matching
// the classic Cloudflare IUAM resubmission shape (a GET to the form action
// carrying the computed answer and verification fields as query parameters).
func buildResubmitURL(actionURL *url.URL, fields map[string]string) *url.URL {
	u := *actionURL
	q := u.Query()
	for k, v := range fields {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return &u
}
