package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/session"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Profile = "chrome-124-desktop-windows"
	return cfg
}

func TestNew_Basic(t *testing.T) {
	s, err := session.New(testConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if s.ID == "" {
		t.Error("ID should not be empty")
	}
	snap := s.Snapshot()
	if snap.State != session.StateIdle {
		t.Errorf("State: got %q, want idle", snap.State)
	}
}

func TestNew_NilConfig(t *testing.T) {
	_, err := session.New(nil)
	if err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNew_UnknownProfile(t *testing.T) {
	cfg := testConfig()
	cfg.Profile = "does-not-exist"
	_, err := session.New(cfg)
	if err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestRequest_HappyPathTransitionsToActive(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s, err := session.New(testConfig(), session.WithInsecureSkipVerify())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := s.Request(context.Background(), session.Request{
		Method: http.MethodGet,
		URL:    srv.URL,
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode: got %d, want 200", resp.StatusCode)
	}
	if resp.SessionID != s.ID {
		t.Errorf("SessionID: got %q, want %q", resp.SessionID, s.ID)
	}

	snap := s.Snapshot()
	if snap.State != session.StateActive {
		t.Errorf("State after Request: got %q, want active", snap.State)
	}
	if snap.RequestsIssued != 1 {
		t.Errorf("RequestsIssued: got %d, want 1", snap.RequestsIssued)
	}
}

func TestRequest_InvalidURL(t *testing.T) {
	s, err := session.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Request(context.Background(), session.Request{Method: http.MethodGet, URL: "://bad"})
	if err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestRequest_OriginNotWhitelisted(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should never be reached for a denied origin")
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.OriginWhitelist = []string{"allowed.example"}
	s, err := session.New(cfg, session.WithInsecureSkipVerify())
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Request(context.Background(), session.Request{Method: http.MethodGet, URL: srv.URL})
	if err == nil {
		t.Error("expected OriginDeniedError for a non-whitelisted host")
	}
}

func TestBatch_PreservesOrderAndRunsConcurrently(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Query().Get("n")))
	}))
	defer srv.Close()

	s, err := session.New(testConfig(), session.WithInsecureSkipVerify())
	if err != nil {
		t.Fatal(err)
	}

	reqs := make([]session.Request, 5)
	for i := range reqs {
		reqs[i] = session.Request{Method: http.MethodGet, URL: srv.URL + "?n=" + string(rune('0'+i))}
	}

	items := s.Batch(context.Background(), reqs)
	if len(items) != 5 {
		t.Fatalf("expected 5 results, got %d", len(items))
	}
	for i, item := range items {
		if item.Err != nil {
			t.Errorf("item %d: unexpected error %v", i, item.Err)
			continue
		}
		if string(item.Response.Body) != string(rune('0'+i)) {
			t.Errorf("item %d: got body %q, want %q", i, item.Response.Body, string(rune('0'+i)))
		}
	}
}

func TestClose_SetsState(t *testing.T) {
	s, err := session.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if snap := s.Snapshot(); snap.State != session.StateClosed {
		t.Errorf("State after Close: got %q, want closed", snap.State)
	}
}

func TestSnapshot_TracksChallengeCounters(t *testing.T) {
	s, err := session.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.ChallengesSeen != 0 || snap.ChallengesSolved != 0 {
		t.Errorf("expected zero challenge counters on a fresh session, got %+v", snap)
	}
}

func TestLastActivity_AdvancesAcrossRequests(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := session.New(testConfig(), session.WithInsecureSkipVerify())
	if err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot().LastActivity
	time.Sleep(time.Millisecond)
	if _, err := s.Request(context.Background(), session.Request{Method: http.MethodGet, URL: srv.URL}); err != nil {
		t.Fatal(err)
	}
	after := s.Snapshot().LastActivity
	if !after.After(before) {
		t.Error("LastActivity should advance after a request")
	}
}
