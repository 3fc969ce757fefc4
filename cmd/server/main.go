/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rewards points engine server: SQLite store,
  transaction ledger, purchase coordinator, reporter, HTTP router, and the
  background reconcile scheduler, with graceful shutdown.

COMMAND-LINE FLAGS:
  -port                HTTP server port (default: 8080)
  -db                  SQLite database path (default: rewards.db)
                       Use ":memory:" for an in-memory database
  -reconcile-interval  Background reconcile sweep interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reconcile scheduler
  4. Close the database
  5. Exit

EXAMPLES:
  ./server -db="./data/rewards.db"
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/warp/rewards-engine/api"
	"github.com/warp/rewards-engine/ledger"
	"github.com/warp/rewards-engine/notify"
	"github.com/warp/rewards-engine/purchase"
	"github.com/warp/rewards-engine/reporting"
	"github.com/warp/rewards-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "rewards.db", "SQLite database path")
	reconcileInterval := flag.Duration("reconcile-interval", time.Hour, "background reconcile sweep interval")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Engine wiring. The catalog here is the static dev seed; the real
	// marketplace client plugs in behind the same interface.
	locks := ledger.NewLockTable()
	audit := ledger.NewAuditRecorder()
	notifier := notify.LogNotifier{}
	l := ledger.NewTransactionLedger(store, locks, audit, notifier)
	catalog := purchase.NewStaticCatalog(
		purchase.Product{ID: "gift-card-25", Name: "$25 Gift Card", Price: 2500, Available: true},
		purchase.Product{ID: "dash-cam", Name: "Dash Camera", Price: 7500, Available: true},
		purchase.Product{ID: "truck-gps", Name: "Truck GPS Unit", Price: 12000, Available: true},
	)
	coordinator := purchase.NewCoordinator(store, l, catalog, locks, notifier)
	reporter := reporting.NewReporter(store)

	handler := api.NewHandler(l, coordinator, reporter, store)
	router := api.NewRouter(handler)

	scheduler := api.NewReconcileScheduler(store, l)
	scheduler.Interval = *reconcileInterval
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	go func() {
		log.Printf("Rewards engine listening on :%d (db: %s)", *port, *dbPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}
