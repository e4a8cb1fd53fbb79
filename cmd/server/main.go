// Server runs the session service: the platform webhook listener, the
// attempt gate, and the expiry sweeper.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threadgate/internal/config"
	"threadgate/internal/db"
	dbmigrate "threadgate/internal/db/migrate"
	"threadgate/internal/gate"
	"threadgate/internal/notify"
	notifyotel "threadgate/internal/notify/otel"
	"threadgate/internal/notify/producer"
	"threadgate/internal/platform"
	"threadgate/internal/reconcile"
	"threadgate/internal/session/repository"
	"threadgate/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("config: DATABASE_URL is required")
	}
	if cfg.PlatformBaseURL == "" || cfg.PlatformToken == "" {
		log.Fatal("config: PLATFORM_BASE_URL and PLATFORM_TOKEN are required")
	}
	if cfg.WebhookSecret == "" {
		log.Fatal("config: WEBHOOK_SECRET is required")
	}

	// Schema is self-ensured on every startup; no separate migration step.
	if err := dbmigrate.EnsureSchema(cfg.DatabaseURL); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	providers, err := notifyotel.NewProviders(ctx, cfg.OTLPEndpoint, "threadgate", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	emitters := notify.Multi{notifyotel.NewEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
	}

	repo := repository.NewPostgresRepository(sqlDB)
	client := platform.NewHTTPClient(cfg.PlatformBaseURL, cfg.PlatformToken)
	reconciler := reconcile.New(repo, client, emitters)

	g := gate.New(repo, client, reconciler, emitters, gate.Options{
		TTL:           cfg.TTL(),
		KickThreshold: cfg.KickThreshold,
		WarnThreshold: cfg.WarnThreshold,
		ExemptRoles:   cfg.ExemptRoleSet(),
	})

	sweeper := sweep.New(repo, client, emitters, cfg.SweepEvery())
	sweeper.Start(ctx)

	ws := platform.NewWebhookServer(cfg.WebhookAddr, cfg.WebhookSecret, g)
	go func() {
		log.Printf("webhook listening on %s", cfg.WebhookAddr)
		if err := ws.ListenAndServe(); err != nil {
			log.Fatalf("webhook: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := ws.Shutdown(shutdownCtx); err != nil {
		log.Printf("webhook shutdown: %v", err)
	}
	sweeper.Stop(30 * time.Second)
	// Give in-flight async notifications time to land before tearing
	// down the emitters.
	time.Sleep(notify.ShutdownDrainDuration)
	if kafkaProducer != nil {
		_ = kafkaProducer.Close()
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("stopped")
}
