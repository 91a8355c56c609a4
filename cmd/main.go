// LeaX bidding-service
//
// Auto-bidding orchestration for freelance marketplaces. One process
// runs, per configured platform:
//   - a monitoring loop: poll → normalize → dedup → evaluate → queue
//   - a dispatch worker: rate-limited FIFO submission with retry/backoff
//
// The Gateway talks to the control surface (enable/disable/reauth,
// strategy hot-swap, bid history); terminal bid outcomes are published
// to Redis as EVENT_BID_TERMINAL for the analytics consumers.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/bidstore"
	"github.com/AmericanPowerAI/LeaX/internal/config"
	"github.com/AmericanPowerAI/LeaX/internal/db"
	"github.com/AmericanPowerAI/LeaX/internal/dedup"
	"github.com/AmericanPowerAI/LeaX/internal/events"
	"github.com/AmericanPowerAI/LeaX/internal/orchestrator"
	"github.com/AmericanPowerAI/LeaX/internal/platform"
	"github.com/AmericanPowerAI/LeaX/internal/ratelimit"
	"github.com/AmericanPowerAI/LeaX/internal/session"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[bidding-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[bidding-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[bidding-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[bidding-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[bidding-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[bidding-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[bidding-service] Redis connected ✓")

	// ── Wiring ───────────────────────────────────────────────────────────────
	attempts := bidstore.NewPostgres(pool)
	seen := dedup.NewPostgres(pool)
	publisher := events.NewPublisher(rdb)

	limits := make(map[string]ratelimit.Config, len(cfg.Platforms))
	adapters := make(map[string]*platform.BoardAdapter, len(cfg.Platforms))
	for id, p := range cfg.Platforms {
		limits[id] = ratelimit.Config{MinGap: p.MinGap.Duration, PerMinute: p.PerMinute}
		adapters[id] = platform.NewBoardAdapter(id, p.BaseURL)
	}
	limiter := ratelimit.New(limits)

	sessions := session.NewManager(
		newMultiAuthenticator(adapters),
		session.EnvCredentials{Prefix: cfg.CredEnvPrefix},
		session.Options{},
	)

	orch := orchestrator.New(cfg, sessions, seen, attempts, limiter, publisher)
	for id, adapter := range adapters {
		orch.Register(adapter, cfg.Platforms[id])
	}
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("[bidding-service] Orchestrator: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[bidding-service] v%s listening on :%s (%d platform(s))",
			version, cfg.Port, len(cfg.Platforms))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[bidding-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[bidding-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[bidding-service] Shutdown error: %v", err)
	}
	cancel()
	orch.Stop()
	log.Println("[bidding-service] Stopped.")
}

// multiAuthenticator routes Login calls to the platform's own adapter.
type multiAuthenticator struct {
	adapters map[string]*platform.BoardAdapter
}

func newMultiAuthenticator(adapters map[string]*platform.BoardAdapter) *multiAuthenticator {
	return &multiAuthenticator{adapters: adapters}
}

func (m *multiAuthenticator) Login(ctx context.Context, platformID, credentialRef string) (time.Time, error) {
	adapter, ok := m.adapters[platformID]
	if !ok {
		return time.Time{}, fmt.Errorf("no adapter for platform %s", platformID)
	}
	return adapter.Login(ctx, platformID, credentialRef)
}
