package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marvalero/admin"
	"marvalero/audit"
	"marvalero/auth"
	"marvalero/business"
	"marvalero/db"
	"marvalero/ledger"
	"marvalero/stripesync"
	"marvalero/transaction"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		log.Fatal("STRIPE_SECRET_KEY is required")
	}
	ledgerClient := ledger.NewStripeClient(stripeKey)

	transactionRepo := transaction.NewRepository(pool)
	businessRepo := business.NewRepository(pool)

	auditService := audit.NewService(audit.NewRepository(pool))
	authService := auth.NewService(auth.NewRepository(pool), os.Getenv("JWT_SECRET"))
	adminService := admin.NewService(admin.NewRepository(pool)).WithAuditWriter(auditService)
	businessService := business.NewService(businessRepo, transactionRepo, ledgerClient).WithAuditWriter(auditService)

	syncService := stripesync.NewService(ledgerClient, transactionRepo, businessRepo)
	webhookHandler := stripesync.NewWebhookHandler(pool, nil)

	log.Printf("admin backend ready: auth=%t admin=%t business=%t webhooks=%t",
		authService != nil, adminService != nil, businessService != nil, webhookHandler != nil)

	scheduler := stripesync.NewScheduler(syncService).
		WithIntervals(envDuration("SYNC_INTERVAL", 24*time.Hour), envDuration("REPAIR_INTERVAL", 6*time.Hour))
	scheduler.Run(ctx)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s %q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
