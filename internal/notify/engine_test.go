package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/printforge/notify/internal/database"
	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/push"
	"github.com/printforge/notify/internal/store"
	"github.com/printforge/notify/internal/threshold"
)

type fakePushSender struct {
	mu   sync.Mutex
	sent []push.Payload
	err  error
}

func (f *fakePushSender) Send(sub *model.PushSubscription, p push.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakePushSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEmailSender struct {
	mu         sync.Mutex
	configured bool
	sent       []string
	err        error
}

func (f *fakeEmailSender) Configured() bool { return f.configured }

func (f *fakeEmailSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, subject)
	return nil
}

type testEnv struct {
	engine        *Engine
	notifications *store.NotificationStore
	subscriptions *store.PushStore
	users         *store.UserStore
	alerts        *store.AlertStore
	thresholds    *threshold.Cache
	pushSender    *fakePushSender
	emailSender   *fakeEmailSender
}

func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	env := &testEnv{
		notifications: store.NewNotificationStore(db),
		subscriptions: store.NewPushStore(db),
		users:         store.NewUserStore(db),
		alerts:        store.NewAlertStore(db),
		pushSender:    &fakePushSender{},
		emailSender:   &fakeEmailSender{configured: true},
	}
	env.thresholds = threshold.NewCache(store.NewThresholdStore(db), logger)
	dispatcher := NewDispatcher(env.notifications, env.subscriptions, env.users, env.alerts,
		env.pushSender, env.emailSender, logger)
	env.engine = NewEngine(env.notifications, env.users, env.alerts, env.thresholds, dispatcher, logger)
	return env
}

func (env *testEnv) createUser(t *testing.T, role string) int64 {
	t.Helper()
	id, err := env.users.Create("Test", "test@example.com", role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func TestEffectiveChannels(t *testing.T) {
	cases := []struct {
		name string
		in   []model.Channel
		want []model.Channel
	}{
		{"empty defaults to database", nil, []model.Channel{model.ChannelDatabase}},
		{"invalid filtered", []model.Channel{"sms", model.ChannelPush}, []model.Channel{model.ChannelPush}},
		{"all invalid defaults", []model.Channel{"sms", "fax"}, []model.Channel{model.ChannelDatabase}},
		{"dedupe keeps order", []model.Channel{model.ChannelEmail, model.ChannelPush, model.ChannelEmail}, []model.Channel{model.ChannelEmail, model.ChannelPush}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EffectiveChannels(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("channels = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("channels = %v, want %v", got, tc.want)
					break
				}
			}
		})
	}
}

func TestCreateNotificationValidation(t *testing.T) {
	env := setupEngine(t)
	uid := env.createUser(t, "user")
	ctx := context.Background()

	if _, err := env.engine.CreateNotification(ctx, uid, "  ", "msg", model.TypeInfo, nil, nil); err != ErrTitleRequired {
		t.Errorf("blank title error = %v, want ErrTitleRequired", err)
	}
	if _, err := env.engine.CreateNotification(ctx, uid, strings.Repeat("t", 256), "msg", model.TypeInfo, nil, nil); err != ErrTitleTooLong {
		t.Errorf("long title error = %v, want ErrTitleTooLong", err)
	}
	if _, err := env.engine.CreateNotification(ctx, uid, "Title", "", model.TypeInfo, nil, nil); err != ErrMessageRequired {
		t.Errorf("blank message error = %v, want ErrMessageRequired", err)
	}
	if _, err := env.engine.CreateNotification(ctx, uid+99, "Title", "msg", model.TypeInfo, nil, nil); err != ErrUnknownUser {
		t.Errorf("unknown user error = %v, want ErrUnknownUser", err)
	}

	// Unknown type degrades to info.
	n, err := env.engine.CreateNotification(ctx, uid, "Title", "msg", "bogus", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Type != model.TypeInfo {
		t.Errorf("type = %q, want info", n.Type)
	}
	if len(n.Channels) != 1 || n.Channels[0] != model.ChannelDatabase {
		t.Errorf("channels = %v, want [database]", n.Channels)
	}
}

func TestCreateNotificationStripsSensitiveContext(t *testing.T) {
	env := setupEngine(t)
	uid := env.createUser(t, "user")

	n, err := env.engine.CreateNotification(context.Background(), uid, "Title", "msg", model.TypeInfo,
		map[string]any{
			"job_id":        42,
			"password":      "hunter2",
			"token":         "secret",
			"csrf":          "abc",
			"process_token": "abcdef0123456789abcdef0123456789",
		}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := n.Context["password"]; ok {
		t.Error("password key should be stripped")
	}
	if _, ok := n.Context["token"]; ok {
		t.Error("token key should be stripped")
	}
	if _, ok := n.Context["csrf"]; ok {
		t.Error("csrf key should be stripped")
	}
	if n.Context["job_id"] == nil {
		t.Error("harmless key should survive")
	}
	if n.Context["process_token"] == nil {
		t.Error("only exact sensitive names are stripped, process_token should survive")
	}

	// Stored row matches the sanitized context.
	stored, _ := env.notifications.GetByID(n.ID, uid)
	if _, ok := stored.Context["password"]; ok {
		t.Error("password must not reach storage")
	}
}

func TestCreateNotificationOversizedContext(t *testing.T) {
	env := setupEngine(t)
	uid := env.createUser(t, "user")

	n, err := env.engine.CreateNotification(context.Background(), uid, "Title", "msg", model.TypeInfo,
		map[string]any{"blob": strings.Repeat("x", 70000)}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Context["error"] != "Context data too large" {
		t.Errorf("context = %v, want size-error placeholder", n.Context)
	}
}

func TestDispatchPushRecordsOutcomes(t *testing.T) {
	env := setupEngine(t)
	uid := env.createUser(t, "user")
	subID, _ := env.subscriptions.Register(uid, "https://push.example.com/s1", "k", "a", "")

	n, err := env.engine.CreateNotification(context.Background(), uid, "Title", "msg", model.TypeInfo, nil,
		[]model.Channel{model.ChannelDatabase, model.ChannelPush})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if env.pushSender.count() != 1 {
		t.Errorf("push sends = %d, want 1", env.pushSender.count())
	}
	sub, _ := env.subscriptions.GetByID(subID)
	if sub.LastUsed == nil {
		t.Error("successful push should stamp last_used")
	}
	if n.ID == 0 {
		t.Error("expected persisted notification")
	}
}

func TestDispatchPushFailureCounts(t *testing.T) {
	env := setupEngine(t)
	env.pushSender.err = context.DeadlineExceeded
	uid := env.createUser(t, "user")
	subID, _ := env.subscriptions.Register(uid, "https://push.example.com/s1", "k", "a", "")

	// Delivery failures never fail the create call.
	_, err := env.engine.CreateNotification(context.Background(), uid, "Title", "msg", model.TypeInfo, nil,
		[]model.Channel{model.ChannelPush})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sub, _ := env.subscriptions.GetByID(subID)
	if sub.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", sub.FailureCount)
	}
}

func TestDispatchExpiredSubscriptionDeactivates(t *testing.T) {
	env := setupEngine(t)
	env.pushSender.err = push.ErrExpired
	uid := env.createUser(t, "user")
	subID, _ := env.subscriptions.Register(uid, "https://push.example.com/s1", "k", "a", "")

	env.engine.CreateNotification(context.Background(), uid, "Title", "msg", model.TypeInfo, nil,
		[]model.Channel{model.ChannelPush})

	sub, _ := env.subscriptions.GetByID(subID)
	if sub.Active {
		t.Error("expired subscription should be deactivated immediately")
	}
}

func TestPerformanceAlertNoThresholdIsNoop(t *testing.T) {
	env := setupEngine(t)
	env.createUser(t, "admin")

	if err := env.engine.CreatePerformanceAlert(context.Background(), "unknown_metric", 999, "api"); err != nil {
		t.Fatalf("alert: %v", err)
	}
	buckets, _ := env.notifications.Stats("day", 30)
	if len(buckets) != 0 {
		t.Error("no notification expected without a threshold")
	}
}

func TestPerformanceAlertNotBreached(t *testing.T) {
	env := setupEngine(t)
	env.createUser(t, "admin")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")

	if err := env.engine.CreatePerformanceAlert(context.Background(), "cpu_usage", 85, "api"); err != nil {
		t.Fatalf("alert: %v", err)
	}
	buckets, _ := env.notifications.Stats("day", 30)
	if len(buckets) != 0 {
		t.Error("value at the threshold must not alert for >")
	}
}

func TestPerformanceAlertMediumSeverity(t *testing.T) {
	env := setupEngine(t)
	adminID := env.createUser(t, "admin")
	env.createUser(t, "user")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")

	// 120 vs 85 is ~41% over: medium, push added, no email.
	if err := env.engine.CreatePerformanceAlert(context.Background(), "cpu_usage", 120, "api"); err != nil {
		t.Fatalf("alert: %v", err)
	}

	list, _ := env.notifications.ListByUser(adminID, "all", 50, 0)
	if len(list) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(list))
	}
	n := list[0]
	if n.Type != model.TypePerformance {
		t.Errorf("type = %q, want performance", n.Type)
	}
	if strings.HasPrefix(n.Title, "CRITICAL") {
		t.Error("medium severity must not carry the critical prefix")
	}
	wantChannels := map[model.Channel]bool{model.ChannelDatabase: true, model.ChannelDashboard: true, model.ChannelPush: true}
	for _, ch := range n.Channels {
		if !wantChannels[ch] {
			t.Errorf("unexpected channel %q", ch)
		}
		delete(wantChannels, ch)
	}
	if len(wantChannels) != 0 {
		t.Errorf("missing channels %v", wantChannels)
	}
	if n.Context["severity"] != "medium" {
		t.Errorf("severity = %v, want medium", n.Context["severity"])
	}

	// Dashboard entry and audit log row exist.
	active, _ := env.alerts.ActiveAlerts(50)
	if len(active) != 1 || active[0].Severity != model.SeverityMedium {
		t.Errorf("active alerts = %v, want one medium", active)
	}
}

func TestPerformanceAlertCriticalEscalation(t *testing.T) {
	env := setupEngine(t)
	adminID := env.createUser(t, "admin")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")

	// 200 vs 85 is ~135% over: critical, push and email, title prefix.
	if err := env.engine.CreatePerformanceAlert(context.Background(), "cpu_usage", 200, "api"); err != nil {
		t.Fatalf("alert: %v", err)
	}

	list, _ := env.notifications.ListByUser(adminID, "all", 50, 0)
	if len(list) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(list))
	}
	n := list[0]
	if !strings.HasPrefix(n.Title, "CRITICAL: ") {
		t.Errorf("title = %q, want CRITICAL: prefix", n.Title)
	}
	hasEmail := false
	for _, ch := range n.Channels {
		if ch == model.ChannelEmail {
			hasEmail = true
		}
	}
	if !hasEmail {
		t.Error("critical alert should include the email channel")
	}
	if len(env.emailSender.sent) != 1 {
		t.Errorf("emails sent = %d, want 1", len(env.emailSender.sent))
	}
}

func TestPerformanceAlertCustomRecipientRoles(t *testing.T) {
	env := setupEngine(t)
	adminID := env.createUser(t, "admin")
	managerID := env.createUser(t, "manager")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")

	if err := env.engine.CreatePerformanceAlert(context.Background(), "cpu_usage", 120, "api", "manager"); err != nil {
		t.Fatalf("alert: %v", err)
	}

	list, _ := env.notifications.ListByUser(managerID, "all", 50, 0)
	if len(list) != 1 {
		t.Errorf("manager notifications = %d, want 1", len(list))
	}
	list, _ = env.notifications.ListByUser(adminID, "all", 50, 0)
	if len(list) != 0 {
		t.Error("admin must not be notified when other roles are named")
	}
}

func TestPerformanceAlertSilenced(t *testing.T) {
	env := setupEngine(t)
	adminID := env.createUser(t, "admin")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")
	env.engine.SilenceMetric("cpu_usage", nil, nil, time.Hour)

	if err := env.engine.CreatePerformanceAlert(context.Background(), "cpu_usage", 200, "api"); err != nil {
		t.Fatalf("alert: %v", err)
	}
	list, _ := env.notifications.ListByUser(adminID, "all", 50, 0)
	if len(list) != 0 {
		t.Error("silenced metric must not notify")
	}
}

func TestRecordPerformanceMetricsEvaluates(t *testing.T) {
	env := setupEngine(t)
	adminID := env.createUser(t, "admin")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")

	err := env.engine.RecordPerformanceMetrics(context.Background(), "api", map[string]float64{
		"cpu_usage":     95,
		"response_time": 0.2,
	})
	if err != nil {
		t.Fatalf("record metrics: %v", err)
	}

	values, _ := env.thresholds.Store().SampleValues("cpu_usage", time.Now().Add(-time.Hour))
	if len(values) != 1 || values[0] != 95 {
		t.Errorf("samples = %v, want [95]", values)
	}
	list, _ := env.notifications.ListByUser(adminID, "all", 50, 0)
	if len(list) != 1 {
		t.Errorf("notifications = %d, want 1 for the breaching metric only", len(list))
	}
}

func TestResolvePerformanceAlert(t *testing.T) {
	env := setupEngine(t)
	adminID := env.createUser(t, "admin")
	env.thresholds.Upsert("cpu_usage", 85, model.OpGreater, "")
	env.engine.CreatePerformanceAlert(context.Background(), "cpu_usage", 120, "api")

	list, _ := env.notifications.ListByUser(adminID, "all", 50, 0)
	ok, err := env.engine.ResolvePerformanceAlert(list[0].ID, adminID, "scaled workers")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ok {
		t.Error("expected resolve to report true")
	}
	active, _ := env.alerts.ActiveAlerts(50)
	if len(active) != 0 {
		t.Error("resolved alert must leave the active list")
	}
}

func TestCreateSystemNotification(t *testing.T) {
	env := setupEngine(t)
	env.createUser(t, "user")
	env.createUser(t, "admin")
	env.createUser(t, "manager")

	created, err := env.engine.CreateSystemNotification(context.Background(), "Maintenance", "Tonight 22:00", model.TypeWarning, nil)
	if err != nil {
		t.Fatalf("system notification: %v", err)
	}
	// Default audience is users and admins, not managers.
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}

	created, _ = env.engine.CreateSystemNotification(context.Background(), "Managers only", "msg", model.TypeInfo, []string{"manager", "bogus"})
	if created != 1 {
		t.Errorf("created = %d, want 1 for manager-only audience", created)
	}
}

func TestListClampsLimit(t *testing.T) {
	env := setupEngine(t)
	uid := env.createUser(t, "user")
	for i := 0; i < 3; i++ {
		env.engine.CreateNotification(context.Background(), uid, "T", "m", model.TypeInfo, nil, nil)
	}

	list, err := env.engine.List(uid, "all", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// A zero limit clamps up to 1, not everything.
	if len(list) != 1 {
		t.Errorf("rows = %d, want 1", len(list))
	}
}

func TestCleanupClampsRetention(t *testing.T) {
	env := setupEngine(t)
	uid := env.createUser(t, "user")
	env.engine.CreateNotification(context.Background(), uid, "Recent", "m", model.TypeInfo, nil, nil)

	// A 0-day request clamps to 7 days, so today's row survives.
	deleted, err := env.engine.CleanupOldNotifications(0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestSilenceClampsDuration(t *testing.T) {
	env := setupEngine(t)

	expires, err := env.engine.SilenceMetric("cpu_usage", nil, nil, time.Second)
	if err != nil {
		t.Fatalf("silence: %v", err)
	}
	if until := time.Until(expires); until < 4*time.Minute {
		t.Errorf("expiry in %v, want at least 5 minutes", until)
	}

	expires, _ = env.engine.SilenceMetric("disk_usage", nil, nil, 30*24*time.Hour)
	if until := time.Until(expires); until > 7*24*time.Hour+time.Minute {
		t.Errorf("expiry in %v, want at most 7 days", until)
	}
}
