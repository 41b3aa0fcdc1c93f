package push

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/printforge/notify/internal/model"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Push services reject payloads past this size, so we shrink before sending.
const maxPayloadBytes = 4000

// Payload is the JSON sent to the push service.
type Payload struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type,omitempty"`
	Tag       string         `json:"tag,omitempty"`
	URL       string         `json:"url,omitempty"`
	Icon      string         `json:"icon,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Service handles sending web push notifications.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
}

// NewService creates a new push service with VAPID keys. The subscriber is
// the mailto contact sent to push services with each request.
func NewService(cfg Config) *Service {
	subscriber := cfg.Subscriber
	if subscriber == "" {
		subscriber = "mailto:noreply@printforge.app"
	}
	return &Service{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: subscriber,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// Send sends a push notification to a subscription. Oversized payloads are
// shrunk rather than rejected; see encodePayload.
func (s *Service) Send(sub *model.PushSubscription, payload Payload) error {
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// encodePayload marshals the payload, degrading it when it would exceed the
// push service size limit: first the message is truncated, then the context
// is replaced with a short note. The notification still goes out; the full
// content remains available in the database record.
func encodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(data) <= maxPayloadBytes {
		return data, nil
	}

	if len(p.Message) > 100 {
		p.Message = p.Message[:97] + "..."
	}
	data, err = json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(data) <= maxPayloadBytes {
		return data, nil
	}

	p.Context = map[string]any{"note": "Context data omitted due to size constraints"}
	return json.Marshal(p)
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	return publicKey, privateKey, nil
}
