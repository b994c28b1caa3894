package chromefp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firasghr/chromefp"
	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/session"
)

func TestNewSession_RoundTrip(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	s, err := chromefp.NewSession(cfg, session.WithInsecureSkipVerify())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	resp, err := s.Request(context.Background(), chromefp.Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode: got %d, want 200", resp.StatusCode)
	}
}

func TestNewManager_BuildsFleet(t *testing.T) {
	m := chromefp.NewManager(config.DefaultConfig(), nil)
	if err := m.CreateSessions(3, nil); err != nil {
		t.Fatalf("CreateSessions: %v", err)
	}
	if m.Count() != 3 {
		t.Errorf("Count: got %d, want 3", m.Count())
	}
	m.CloseAll()
}
