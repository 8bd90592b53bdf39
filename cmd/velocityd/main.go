// Command velocityd runs the ops/debug server for the velocity counting
// layer: counter lookups, audit statistics, a live event stream, and
// Prometheus metrics. The store connection is fail-open: if the store is
// unreachable at startup, the daemon still serves, returning zero counts.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/velostore/velocity"
	"github.com/velostore/velocity/api"
	"github.com/velostore/velocity/audit"
	"github.com/velostore/velocity/internal/config"
	"github.com/velostore/velocity/metrics"
	"github.com/velostore/velocity/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if level, parseErr := log.ParseLevel(cfg.LogLevel); parseErr == nil {
		log.SetLevel(level)
	}

	client := velocity.New(velocity.WithMetrics(metrics.NewSink()))
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("failed to close counter client")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	storeCfg := store.DefaultRedisConfig()
	storeCfg.Addrs = cfg.StoreAddrs
	storeCfg.ReadTimeout = cfg.StoreReadTimeout
	storeCfg.WriteTimeout = cfg.StoreWriteTimeout

	if s, storeErr := store.NewRedisStore(ctx, storeCfg); storeErr != nil {
		// Fail open: the counting layer serves zeros rather than refusing
		// to start when the store is down.
		log.WithError(storeErr).Error("counter store unavailable, serving fail-open")
	} else {
		client.InitializeStore(s)
	}

	var auditLogger *audit.Logger
	var statsHandler *api.StatsHandler

	if cfg.DatabaseURL != "" {
		db, dbErr := sql.Open("postgres", cfg.DatabaseURL)
		if dbErr != nil {
			log.Fatalf("failed to open audit database: %v", dbErr)
		}

		auditLogger, err = audit.New(audit.Config{DB: db})
		if err != nil {
			log.Fatalf("failed to initialize audit logger: %v", err)
		}

		querySvc, svcErr := audit.NewQueryService(db)
		if svcErr != nil {
			log.Fatalf("failed to initialize audit queries: %v", svcErr)
		}
		statsHandler = api.NewStatsHandler(querySvc)
	} else {
		log.Info("DATABASE_URL not set, audit trail disabled")
		statsHandler = api.NewStatsHandler(nil)
	}

	broker := api.NewEventBroker(64)

	observe := func(event api.CounterEvent) {
		broker.Publish(event)
		if auditLogger != nil {
			auditLogger.Log(audit.Event{
				Timestamp:     event.Timestamp,
				Op:            event.Op,
				Key:           event.Key,
				WindowSeconds: event.WindowSeconds,
				Count:         event.Count,
				Status:        "ok",
			})
		}
	}

	countersHandler := api.NewCountersHandler(client, observe)
	protectedIncrement := requireAdminToken(cfg.AdminAPIToken, countersHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/counters", countersHandler)
	mux.Handle("/api/counters/increment", protectedIncrement)
	mux.Handle("/api/stats/", statsHandler)
	mux.Handle("/api/stream", api.NewStreamHandler(broker))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
		// No blanket write timeout: /api/stream holds connections open.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("velocityd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down velocityd")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}

	if auditLogger != nil {
		if err := auditLogger.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("audit logger shutdown error")
		}
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok","service":"velocityd"}` + "\n")); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

// requireAdminToken gates mutating endpoints behind a bearer token.
func requireAdminToken(expectedToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Lookups stay open; only mutations need the token.
		if r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		if strings.TrimSpace(expectedToken) == "" {
			writeAuthError(w, http.StatusForbidden, "admin API token not configured")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="velocity-admin"`)
			writeAuthError(w, http.StatusUnauthorized, "missing admin token")
			return
		}

		if token != expectedToken {
			writeAuthError(w, http.StatusForbidden, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(`{"error":"` + message + `"}` + "\n")); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}
