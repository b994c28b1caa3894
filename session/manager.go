package session

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/events"
	"github.com/firasghr/chromefp/proxy"
)

// Manager owns a fleet of Sessions, generalizing session/manager.go's
// SessionManager -- int-indexed, one shared config, one proxy per
// session -- into a uuid-indexed registry where every Session also shares
// one event bus so a caller can watch the whole fleet on a single
// subscription.
//
// Concurrency model is unchanged from the original: a sync.RWMutex
// protects the registry (RLock for GetSession/Count, Lock for mutating
// calls), and CreateSessions fans construction out one goroutine per
// Session so standing up a large fleet costs one TLS-profile resolution's
// worth of wall time, not count times that.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      *config.Config
	bus      *events.Bus
}

// NewManager returns an empty Manager that builds Sessions from cfg.
func NewManager(cfg *config.Config, bus *events.Bus) *Manager {
	if bus == nil {
		bus = events.New()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		bus:      bus,
	}
}

// CreateSessions builds count Sessions concurrently, assigning each the
// next proxy from pm's round-robin rotation (pm may be nil, meaning every
// Session dials directly).
//
// This replaces session/manager.go's CreateSessions error handling:
// the original collected failures into a bare []error and surfaced only
// "first error" to the caller, discarding the rest. CreateSessions instead
// accumulates every failure with hashicorp/go-multierror, so a caller
// standing up 50 sessions learns about all of the ones that failed, not
// just the first. Sessions that do construct successfully are registered
// regardless of how many siblings in the same batch failed; a Session that
// built without error holds nothing worth unwinding.
func (m *Manager) CreateSessions(count int, pm *proxy.ProxyManager) error {
	type result struct {
		sess *Session
		err  error
	}
	results := make(chan result, count)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var opts []Option
			if pm != nil {
				if p := pm.GetNextProxy(); p != "" {
					opts = append(opts, WithProxy(p))
				}
			}
			opts = append(opts, WithEventBus(m.bus))
			sess, err := New(m.cfg, opts...)
			results <- result{sess: sess, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var errs *multierror.Error
	m.mu.Lock()
	for r := range results {
		if r.err != nil {
			errs = multierror.Append(errs, r.err)
			continue
		}
		m.sessions[r.sess.ID] = r.sess
	}
	m.mu.Unlock()

	return errs.ErrorOrNil()
}

// GetSession returns the Session registered under id, if any.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of Sessions currently registered.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the ids of every Session currently registered, in no
// particular order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered Session and empties the registry.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
}
