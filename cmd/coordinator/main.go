package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgemesh/coordinator/config"
	"github.com/edgemesh/coordinator/coordination"
	"github.com/edgemesh/coordinator/eventbus"
	"github.com/edgemesh/coordinator/history"
	"github.com/edgemesh/coordinator/middleware"
	"github.com/edgemesh/coordinator/store"
)

// nowUTC is the clock source for request-received timestamps in this
// package (e.g. heartbeat arrival time). Isolated the same way
// store.nowUTC is, so handler tests can observe it if ever needed.
var nowUTC = func() time.Time { return time.Now().UTC() }

func main() {
	// Grounded on the original agent_service/settings.py's load_dotenv()
	// call: a missing .env is not an error, just means env vars are used
	// as-is.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("coordinator: .env load skipped: %v", err)
	}

	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var s store.Store
	if cfg.DBURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("coordinator: failed to connect to %s: %v", cfg.DBURL, err)
		}
		defer pg.Close()
		s = pg
		log.Printf("coordinator: using PostgreSQL store")
	} else {
		s = store.NewMemoryStore()
		log.Printf("coordinator: COORDINATOR_DB_URL unset, using in-memory store")
	}

	hist := history.NewBuffer(0)
	bus := eventbus.New(0)

	monitor := coordination.NewStalenessMonitor(s, 5*time.Second, cfg.NodeStaleSeconds)
	monitor.Start(ctx)

	api := NewAPI(s, hist, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.handleHealth)

	mux.Handle("/v1/agent/register", middleware.RequireSharedSecret(cfg.SharedSecret, http.HandlerFunc(api.handleRegister)))
	mux.Handle("/v1/agent/heartbeat", middleware.RequireSharedSecret(cfg.SharedSecret, http.HandlerFunc(api.handleHeartbeat)))

	mux.HandleFunc("/v1/nodes", api.handleListNodes)
	mux.HandleFunc("/v1/nodes/", api.handleNodeByID)
	mux.HandleFunc("/v1/simulate/schedule", api.handleSimulateSchedule)
	mux.HandleFunc("/v1/jobs", api.handleJobsCollection)
	mux.HandleFunc("/v1/jobs/", api.handleJobByID)
	mux.HandleFunc("/v1/cluster/summary", api.handleClusterSummary)
	mux.HandleFunc("/v1/stream/nodes", api.handleStreamNodes)

	mux.Handle("/metrics", promhttp.Handler())

	handler := middleware.CORS(cfg.CORSOrigins, mux)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("coordinator: graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("coordinator: listening on %s", cfg.Addr())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("coordinator: server error: %v", err)
	}
	log.Println("coordinator: shut down cleanly")
}
