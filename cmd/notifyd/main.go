package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/printforge/notify/internal/database"
	"github.com/printforge/notify/internal/email"
	"github.com/printforge/notify/internal/events"
	"github.com/printforge/notify/internal/logging"
	"github.com/printforge/notify/internal/notify"
	"github.com/printforge/notify/internal/push"
	"github.com/printforge/notify/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("NOTIFY_LOG_LEVEL"), os.Getenv("NOTIFY_LOG_FORMAT"))

	port := getenv("NOTIFY_PORT", "8080")
	dbPath := getenv("NOTIFY_DB_PATH", "notify.db")

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	pushCfg := push.Config{
		VAPIDPublicKey:  os.Getenv("NOTIFY_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("NOTIFY_VAPID_PRIVATE_KEY"),
		Subscriber:      os.Getenv("NOTIFY_VAPID_SUBSCRIBER"),
	}
	if pushCfg.VAPIDPublicKey == "" || pushCfg.VAPIDPrivateKey == "" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			log.Fatalf("failed to generate VAPID keys: %v", err)
		}
		pushCfg.VAPIDPublicKey, pushCfg.VAPIDPrivateKey = pub, priv
		logger.Warn("using ephemeral VAPID keys, push subscriptions will not survive restarts")
	}

	emailClient := email.NewClient(
		os.Getenv("NOTIFY_EMAIL_TOKEN"),
		getenv("NOTIFY_EMAIL_FROM", "noreply@printforge.app"),
	)

	srv := server.New(db, emailClient, server.Config{
		Push: pushCfg,
		Scheduler: notify.SchedulerConfig{
			RetentionDays: getenvInt("NOTIFY_RETENTION_DAYS", 90),
			AdjustMetrics: splitList(os.Getenv("NOTIFY_AUTO_ADJUST_METRICS")),
		},
	}, logger)

	if err := srv.Thresholds().SeedDefaults(); err != nil {
		log.Fatalf("failed to seed default thresholds: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.Scheduler().Start(ctx)
	defer srv.Scheduler().Stop()

	// Kafka consumer is optional; without brokers the service still serves
	// the HTTP API.
	if brokers := splitList(os.Getenv("NOTIFY_KAFKA_BROKERS")); len(brokers) > 0 {
		processH, queueH := srv.EventHandlers()
		consumer := events.NewConsumer(events.ConsumerConfig{
			Brokers: brokers,
			Topic:   getenv("NOTIFY_KAFKA_TOPIC", "printforge.events"),
			GroupID: getenv("NOTIFY_KAFKA_GROUP", "notifyd"),
		}, processH, queueH, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("event consumer stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("notifyd listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
