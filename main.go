// chromefp is a programmable HTTP client that reproduces Chrome's TLS and
// HTTP/2 wire fingerprint and transparently solves Cloudflare-style
// challenges. This binary is a thin operational harness around the
// library: it loads configuration, stands up a fleet of Sessions, issues
// one request per Session on an interval, and logs the typed event stream
// instead of shipping its own metrics exporter or dashboard -- that
// consumption is left to whatever subscribes to events.Bus.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults).
//  2. Load the proxy list (optional).
//  3. Build a structured logger and an event bus, and fan the bus's
//     events into the logger.
//  4. Build the Session fleet via session.Manager.CreateSessions.
//  5. Issue one request per Session per tick until a shutdown signal
//     arrives, then close every Session cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/firasghr/chromefp/config"
	"github.com/firasghr/chromefp/events"
	"github.com/firasghr/chromefp/proxy"
	"github.com/firasghr/chromefp/session"
	"github.com/firasghr/chromefp/telemetry"
)

func main() {
	configFile := flag.String("config", "", "Path to a JSON session config file (optional; uses defaults if omitted)")
	proxyFile := flag.String("proxies", "", "Path to a newline-delimited proxy list (optional)")
	sessionCount := flag.Int("sessions", 10, "Number of sessions to create")
	target := flag.String("target", "", "URL each session requests on every tick (if empty, sessions are created but idle)")
	interval := flag.Duration("interval", 5*time.Second, "Interval between request ticks")
	flag.Parse()

	log, err := telemetry.New(telemetry.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chromefp: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	log.Info("chromefp starting up")

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Sugar().Fatalf("load config %q: %v", *configFile, err)
		}
		log.Sugar().Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}

	pm := &proxy.ProxyManager{}
	if *proxyFile != "" {
		if err := pm.LoadProxies(*proxyFile); err != nil {
			log.Sugar().Fatalf("load proxies %q: %v", *proxyFile, err)
		}
		log.Sugar().Infof("loaded %d proxies from %q", pm.Count(), *proxyFile)
	} else {
		log.Info("no proxy file configured; sessions will connect directly")
	}

	bus := events.New()
	go logEvents(log, bus)

	mgr := session.NewManager(cfg, bus)
	log.Sugar().Infof("creating %d sessions…", *sessionCount)
	if err := mgr.CreateSessions(*sessionCount, pm); err != nil {
		log.Sugar().Errorf("one or more sessions failed to create: %v", err)
	}
	log.Sugar().Infof("%d sessions created", mgr.Count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *target != "" {
		go dispatchTicks(ctx, log, mgr, *target, *interval)
	} else {
		log.Info("no -target configured; sessions are idle")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Sugar().Infof("received signal %s; shutting down", sig)

	cancel()
	mgr.CloseAll()
	log.Info("chromefp shut down cleanly")
}

// dispatchTicks issues one request per session, per tick, until ctx is
// canceled. A Session bounds its own concurrency, so no separate worker
// pool is needed to fan requests out safely.
func dispatchTicks(ctx context.Context, log *zap.Logger, mgr *session.Manager, target string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range mgr.IDs() {
				s, ok := mgr.GetSession(id)
				if !ok {
					continue
				}
				go func(s *session.Session) {
					if _, err := s.Request(ctx, session.Request{Method: http.MethodGet, URL: target}); err != nil {
						log.Sugar().Debugw("request failed", "session", s.ID, "err", err)
					}
				}(s)
			}
		}
	}
}

// logEvents fans the typed event stream into structured log lines, the
// minimal consumer of that stream -- a real deployment would subscribe
// its own metrics exporter the same way.
func logEvents(log *zap.Logger, bus *events.Bus) {
	for ev := range bus.Subscribe() {
		switch ev.Kind {
		case events.KindChallengeDetected:
			log.Sugar().Infow("challenge detected", "session", ev.SessionID, "kind", ev.ChallengeKind)
		case events.KindChallengeSolved:
			log.Sugar().Infow("challenge solved", "session", ev.SessionID, "duration", ev.Duration)
		case events.KindChallengeFailed:
			log.Sugar().Warnw("challenge failed", "session", ev.SessionID, "cause", ev.Cause)
		case events.KindRateLimitAdjusted:
			log.Sugar().Debugw("rate limit adjusted", "host", ev.Host, "new_rate", ev.NewRate)
		case events.KindRequestCompleted:
			log.Sugar().Debugw("request completed", "session", ev.SessionID, "status", ev.StatusCode, "ms", ev.TotalMs)
		}
	}
}
