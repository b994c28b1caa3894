package session_test

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/proxy"
	"github.com/firasghr/chromefp/session"
)

func TestNewManager_Empty(t *testing.T) {
	m := session.NewManager(config.DefaultConfig(), nil)
	if m.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", m.Count())
	}
}

func TestCreateSessions(t *testing.T) {
	m := session.NewManager(config.DefaultConfig(), nil)
	if err := m.CreateSessions(5, nil); err != nil {
		t.Fatalf("CreateSessions error: %v", err)
	}
	if m.Count() != 5 {
		t.Errorf("expected 5 sessions, got %d", m.Count())
	}
}

func TestCreateSessions_InvalidConfigAggregatesAllFailures(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Profile = "does-not-exist"
	m := session.NewManager(cfg, nil)

	err := m.CreateSessions(3, nil)
	if err == nil {
		t.Fatal("expected an aggregated error for an unknown profile")
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 3 {
		t.Errorf("expected 3 aggregated failures, got %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("expected 0 sessions registered, got %d", m.Count())
	}
}

func TestGetSession(t *testing.T) {
	m := session.NewManager(config.DefaultConfig(), nil)
	if err := m.CreateSessions(3, nil); err != nil {
		t.Fatal(err)
	}

	for _, id := range m.IDs() {
		got, ok := m.GetSession(id)
		if !ok || got == nil {
			t.Errorf("session %s not found via GetSession", id)
		}
	}

	if _, ok := m.GetSession("does-not-exist"); ok {
		t.Error("expected not-found for an unknown session id")
	}
}

func TestCloseAll(t *testing.T) {
	m := session.NewManager(config.DefaultConfig(), nil)
	if err := m.CreateSessions(3, nil); err != nil {
		t.Fatal(err)
	}
	m.CloseAll()
	if m.Count() != 0 {
		t.Errorf("expected 0 sessions after CloseAll, got %d", m.Count())
	}
}

func TestCreateSessions_WithEmptyProxyManagerDialsDirectly(t *testing.T) {
	m := session.NewManager(config.DefaultConfig(), nil)
	pm := &proxy.ProxyManager{} // no proxies loaded; GetNextProxy returns ""

	if err := m.CreateSessions(2, pm); err != nil {
		t.Fatalf("CreateSessions with an empty proxy manager: %v", err)
	}
	if m.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", m.Count())
	}
}
