/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server. Handles
  configuration, dependency injection, timer restoration, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store (work units + payment attempts)
  3. Start the simulated ledger and fund the signing account
  4. Wire executor, work service, and auto-approval scheduler
  5. Restore approval timers for units still awaiting review
  6. Start the sweeper for missed-checkout attendance days
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: settlement.db)
                   Use ":memory:" for in-memory database
  -signing-account Ledger account payments are signed from
  -fund            Initial ledger balance for the signing account
  -review-timeout  Auto-approval timeout (default: 72h)
  -nats            NATS URL for settlement notifications (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Disarm approval timers
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database and a funded demo ledger
  ./server -db="./data/settlement.db" -fund=10000

  # Run with notifications
  ./server -nats="nats://localhost:4222"

SEE ALSO:
  - api/server.go: Router configuration
  - work/service.go: The state machine behind the API
  - scheduler/autoapprove.go: Timer restoration semantics
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/notify"
	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/scheduler"
	"github.com/warp/settlement-engine/store/sqlite"
	"github.com/warp/settlement-engine/work"
)

func main() {
	// .env is optional; flags win over environment defaults.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "settlement.db"), "SQLite database path")
	signingAccount := flag.String("signing-account", envStr("SIGNING_ACCOUNT", "acct-company"), "ledger account payments are signed from")
	fund := flag.Int64("fund", 10000, "initial ledger balance for the signing account")
	reviewTimeout := flag.Duration("review-timeout", 72*time.Hour, "auto-approval timeout for units awaiting review")
	natsURL := flag.String("nats", envStr("NATS_URL", ""), "NATS URL for settlement notifications (empty disables)")
	flag.Parse()

	// Storage
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Simulated ledger, funded for demo use.
	chain := ledger.NewMemory()
	if *fund > 0 {
		chain.Credit(*signingAccount, decimal.NewFromInt(*fund))
	}

	executor := payment.NewExecutor(chain, store, *signingAccount)

	// Notifications
	var sink notify.Sink = notify.Noop{}
	if *natsURL != "" {
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			log.Printf("Warning: notifications disabled: %v", err)
		} else {
			defer conn.Close()
			sink = notify.NewNATS(conn, "settlement.events")
		}
	}

	// State machine and scheduler. The circular dependency (service fires
	// timers, timers call back into the service) resolves through the
	// callback wiring below.
	svc := work.NewService(store, nil, executor)
	svc.Notifier = sink

	approver := scheduler.New(*reviewTimeout, svc, func(unitID string) {
		if err := svc.AutoApprove(context.Background(), unitID); err != nil {
			log.Printf("[Scheduler] auto-approval of unit %s failed: %v", unitID, err)
		}
	})
	svc.Timers = approver
	defer approver.Stop()

	// In-flight countdowns survive restarts.
	if err := approver.Restore(context.Background()); err != nil {
		log.Printf("Warning: failed to restore approval timers: %v", err)
	}

	// Sweep attendance days whose end event never arrived.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweeper(sweepCtx, svc)

	router := api.NewRouter(api.NewHandler(svc, store))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// runSweeper suspends attendance days that crossed midnight without a
// checkout. Hourly is plenty; the sweep is idempotent.
func runSweeper(ctx context.Context, svc *work.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.MarkSuspended(ctx, time.Now())
			if err != nil {
				log.Printf("[Sweeper] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Sweeper] suspended %d attendance day(s) missing checkout", n)
			}
		}
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
