package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/push"
	"github.com/printforge/notify/internal/store"
)

// Concurrent push sends per notification.
const pushSendLimit = 4

// PushSender delivers one web push message to a subscription endpoint.
type PushSender interface {
	Send(sub *model.PushSubscription, payload push.Payload) error
}

// EmailSender delivers one email.
type EmailSender interface {
	Configured() bool
	Send(ctx context.Context, toEmail, subject, htmlBody, textBody string) error
}

// EffectiveChannels filters a requested channel list down to the known
// channels, deduplicated in request order. An empty or fully invalid
// request falls back to database only, so every notification always has a
// durable record.
func EffectiveChannels(requested []model.Channel) []model.Channel {
	var out []model.Channel
	seen := make(map[model.Channel]bool)
	for _, ch := range requested {
		if !model.ValidChannel(ch) || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		out = []model.Channel{model.ChannelDatabase}
	}
	return out
}

// Result reports the per-channel outcome of one dispatch.
type Result struct {
	// DispatchID ties the delivery log rows of one dispatch together.
	DispatchID string
	Channels   map[model.Channel]bool
}

// Dispatcher fans a stored notification out to its delivery channels.
// Channel failures are recorded and logged but never returned as errors;
// the database row is the source of truth and the other channels are
// best effort.
type Dispatcher struct {
	notifications *store.NotificationStore
	subscriptions *store.PushStore
	users         *store.UserStore
	alerts        *store.AlertStore
	pushSvc       PushSender
	emailClient   EmailSender
	logger        *slog.Logger
	now           func() time.Time
}

func NewDispatcher(
	ns *store.NotificationStore,
	ps *store.PushStore,
	us *store.UserStore,
	as *store.AlertStore,
	pushSvc PushSender,
	emailClient EmailSender,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		notifications: ns,
		subscriptions: ps,
		users:         us,
		alerts:        as,
		pushSvc:       pushSvc,
		emailClient:   emailClient,
		logger:        logger.With("component", "dispatcher"),
		now:           time.Now,
	}
}

// Dispatch sends an already-persisted notification over each of its
// channels and records the outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, n *model.Notification) Result {
	result := Result{
		DispatchID: uuid.NewString(),
		Channels:   make(map[model.Channel]bool, len(n.Channels)),
	}
	for _, ch := range n.Channels {
		var ok bool
		switch ch {
		case model.ChannelDatabase:
			// The row was written before dispatch; nothing further to do.
			ok = true
		case model.ChannelPush:
			ok = d.sendPush(ctx, n)
		case model.ChannelEmail:
			ok = d.sendEmail(ctx, n)
		case model.ChannelDashboard:
			ok = d.publishDashboard(n)
		}
		result.Channels[ch] = ok
		if ch == model.ChannelDatabase {
			continue
		}
		if err := d.notifications.RecordDelivery(n.ID, ch, ok, result.DispatchID); err != nil {
			d.logger.Error("record delivery failed", "notification_id", n.ID, "channel", ch, "error", err)
		}
	}
	return result
}

// sendPush delivers to every active subscription of the user. The channel
// counts as delivered when at least one endpoint accepted the message.
func (d *Dispatcher) sendPush(ctx context.Context, n *model.Notification) bool {
	subs, err := d.subscriptions.ListActive(n.UserID)
	if err != nil {
		d.logger.Error("list push subscriptions failed", "user_id", n.UserID, "error", err)
		return false
	}
	if len(subs) == 0 {
		return false
	}

	payload := push.Payload{
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Tag:       fmt.Sprintf("notification-%d", n.ID),
		Context:   n.Context,
		Timestamp: d.now().Unix(),
	}

	var mu sync.Mutex
	delivered := false
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pushSendLimit)
	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			err := d.pushSvc.Send(&sub, payload)
			success := err == nil
			switch {
			case success:
				mu.Lock()
				delivered = true
				mu.Unlock()
			case errors.Is(err, push.ErrExpired):
				d.logger.Info("push subscription expired", "subscription_id", sub.ID)
				if err := d.subscriptions.Deactivate(sub.ID); err != nil {
					d.logger.Error("deactivate subscription failed", "subscription_id", sub.ID, "error", err)
				}
			default:
				d.logger.Warn("push send failed", "subscription_id", sub.ID, "error", err)
			}
			if err := d.subscriptions.RecordOutcome(sub.ID, success, d.now()); err != nil {
				d.logger.Error("record push outcome failed", "subscription_id", sub.ID, "error", err)
			}
			nid := n.ID
			if err := d.subscriptions.LogDelivery(n.UserID, sub.ID, &nid, success); err != nil {
				d.logger.Error("log push delivery failed", "subscription_id", sub.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return delivered
}

func (d *Dispatcher) sendEmail(ctx context.Context, n *model.Notification) bool {
	if d.emailClient == nil || !d.emailClient.Configured() {
		d.logger.Warn("email channel requested but no email client configured", "notification_id", n.ID)
		return false
	}
	to, err := d.users.Email(n.UserID)
	if err != nil {
		d.logger.Error("lookup user email failed", "user_id", n.UserID, "error", err)
		return false
	}
	if to == "" {
		d.logger.Warn("email channel requested but user has no address", "user_id", n.UserID)
		return false
	}
	htmlBody, textBody := buildEmailBody(n)
	if err := d.emailClient.Send(ctx, to, n.Title, htmlBody, textBody); err != nil {
		d.logger.Warn("email send failed", "notification_id", n.ID, "error", err)
		return false
	}
	return true
}

// publishDashboard materializes a performance notification on the alert
// dashboard. Non-performance notifications and those missing metric context
// have nothing to show there.
func (d *Dispatcher) publishDashboard(n *model.Notification) bool {
	if n.Type != model.TypePerformance || n.Context == nil {
		return false
	}
	metric, _ := n.Context["metric"].(string)
	if metric == "" {
		return false
	}
	value, _ := n.Context["value"].(float64)
	thresholdValue, _ := n.Context["threshold"].(float64)
	component, _ := n.Context["component"].(string)
	severity := model.Severity(fmt.Sprint(n.Context["severity"]))
	if !model.ValidSeverity(severity) {
		severity = model.SeverityMedium
	}
	if err := d.alerts.CreateDashboardEntry(n.ID, metric, value, thresholdValue, component, severity); err != nil {
		d.logger.Error("create dashboard entry failed", "notification_id", n.ID, "error", err)
		return false
	}
	return true
}

func buildEmailBody(n *model.Notification) (htmlBody, textBody string) {
	htmlBody = fmt.Sprintf("<h2>%s</h2><p>%s</p>", html.EscapeString(n.Title), html.EscapeString(n.Message))
	textBody = n.Title + "\n\n" + n.Message
	if n.Type == model.TypePerformance && n.Context != nil {
		details := fmt.Sprintf("Metric: %v\nValue: %v\nThreshold: %v\nSeverity: %v",
			n.Context["metric"], n.Context["value"], n.Context["threshold"], n.Context["severity"])
		htmlBody += "<hr><pre>" + html.EscapeString(details) + "</pre>"
		textBody += "\n\n" + details
	}
	return htmlBody, textBody
}
