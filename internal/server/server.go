package server

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/printforge/notify/internal/email"
	"github.com/printforge/notify/internal/events"
	"github.com/printforge/notify/internal/handler"
	"github.com/printforge/notify/internal/middleware"
	"github.com/printforge/notify/internal/notify"
	"github.com/printforge/notify/internal/push"
	"github.com/printforge/notify/internal/store"
	"github.com/printforge/notify/internal/threshold"
)

type Server struct {
	db            *sql.DB
	notificationH *handler.NotificationHandler
	pushH         *handler.PushHandler
	monitoringH   *handler.MonitoringHandler
	engine        *notify.Engine
	thresholds    *threshold.Cache
	scheduler     *notify.Scheduler
	processEvents *events.ProcessHandler
	queueEvents   *events.QueueHandler
	logger        *slog.Logger
}

type Config struct {
	Push      push.Config
	Scheduler notify.SchedulerConfig
}

func New(db *sql.DB, emailClient *email.Client, cfg Config, logger *slog.Logger) *Server {
	notificationStore := store.NewNotificationStore(db)
	pushStore := store.NewPushStore(db)
	userStore := store.NewUserStore(db)
	alertStore := store.NewAlertStore(db)
	thresholdStore := store.NewThresholdStore(db)

	thresholds := threshold.NewCache(thresholdStore, logger)
	pushSvc := push.NewService(cfg.Push)

	dispatcher := notify.NewDispatcher(notificationStore, pushStore, userStore, alertStore,
		pushSvc, emailClient, logger)
	engine := notify.NewEngine(notificationStore, userStore, alertStore, thresholds, dispatcher, logger)
	scheduler := notify.NewScheduler(engine, logger, cfg.Scheduler)

	return &Server{
		db:            db,
		notificationH: handler.NewNotificationHandler(engine, logger.With("component", "notification_handler")),
		pushH:         handler.NewPushHandler(pushStore, userStore, pushSvc, logger.With("component", "push_handler")),
		monitoringH:   handler.NewMonitoringHandler(engine, thresholds, alertStore, logger.With("component", "monitoring_handler")),
		engine:        engine,
		thresholds:    thresholds,
		scheduler:     scheduler,
		processEvents: events.NewProcessHandler(engine, userStore, notificationStore, events.DefaultProcessConfig(), logger),
		queueEvents:   events.NewQueueHandler(engine, userStore, logger),
		logger:        logger,
	}
}

// Thresholds exposes the threshold cache for startup seeding.
func (s *Server) Thresholds() *threshold.Cache {
	return s.thresholds
}

// Scheduler exposes the maintenance scheduler so main can manage its
// lifecycle.
func (s *Server) Scheduler() *notify.Scheduler {
	return s.scheduler
}

// EventHandlers exposes the event handlers for the Kafka consumer.
func (s *Server) EventHandlers() (*events.ProcessHandler, *events.QueueHandler) {
	return s.processEvents, s.queueEvents
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Notifications
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("POST /api/notifications", s.notificationH.Create)
	mux.HandleFunc("GET /api/notifications/unread-count", s.notificationH.UnreadCount)
	mux.HandleFunc("GET /api/notifications/stats", s.notificationH.Stats)
	mux.HandleFunc("POST /api/notifications/system", s.notificationH.CreateSystem)
	mux.HandleFunc("POST /api/notifications/read-all", s.notificationH.MarkAllRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.notificationH.Delete)

	// Push subscriptions and preferences
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("PUT /api/preferences", s.pushH.UpdatePreference)

	// Performance monitoring
	mux.HandleFunc("GET /api/monitoring/thresholds", s.monitoringH.ListThresholds)
	mux.HandleFunc("PUT /api/monitoring/thresholds", s.monitoringH.UpsertThreshold)
	mux.HandleFunc("DELETE /api/monitoring/thresholds/{metric}", s.monitoringH.DisableThreshold)
	mux.HandleFunc("POST /api/monitoring/metrics", s.monitoringH.RecordMetrics)
	mux.HandleFunc("GET /api/monitoring/metrics/latest", s.monitoringH.LatestMetrics)
	mux.HandleFunc("GET /api/monitoring/alerts", s.monitoringH.ActiveAlerts)
	mux.HandleFunc("GET /api/monitoring/alerts/history", s.monitoringH.AlertHistory)
	mux.HandleFunc("POST /api/monitoring/alerts/{id}/resolve", s.monitoringH.ResolveAlert)
	mux.HandleFunc("POST /api/monitoring/silence", s.monitoringH.Silence)
	mux.HandleFunc("DELETE /api/monitoring/silence/{metric}", s.monitoringH.Unsilence)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", "error", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
