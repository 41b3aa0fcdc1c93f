package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Envelope is the wire format shared by all event producers. The payload
// shape depends on the type.
type Envelope struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	UserID  int64           `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

type processStatusPayload struct {
	Token     string `json:"token"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

type processProgressPayload struct {
	Token   string `json:"token"`
	Percent int    `json:"percent"`
}

type processResultsPayload struct {
	Token       string `json:"token"`
	DownloadURL string `json:"download_url"`
}

type processExpiryPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type queueStatusPayload struct {
	JobID       int64  `json:"job_id"`
	ProductName string `json:"product_name"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
}

type printerAssignedPayload struct {
	JobID       int64  `json:"job_id"`
	PrinterID   int64  `json:"printer_id"`
	ProductName string `json:"product_name"`
}

type completionReminderPayload struct {
	JobID         int64   `json:"job_id"`
	ProductName   string  `json:"product_name"`
	Status        string  `json:"status"`
	RemainingMins float64 `json:"remaining_minutes"`
}

type highPriorityPayload struct {
	JobID       int64  `json:"job_id"`
	ProductName string `json:"product_name"`
	Priority    int    `json:"priority"`
}

// Consumer reads domain events from Kafka and routes them to the handlers.
// Malformed messages are logged and committed so they do not wedge the
// partition.
type Consumer struct {
	reader  *kafka.Reader
	process *ProcessHandler
	queue   *QueueHandler
	logger  *slog.Logger
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewConsumer(cfg ConsumerConfig, process *ProcessHandler, queue *QueueHandler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:  reader,
		process: process,
		queue:   queue,
		logger:  logger.With("component", "event_consumer"),
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handle(ctx, msg.Value); err != nil {
			c.logger.Error("event handling failed",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	c.logger.Debug("event received", "event_id", env.EventID, "type", env.Type, "user_id", env.UserID)

	switch env.Type {
	case "process.status_changed":
		var p processStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.process.HandleStatusChange(ctx, env.UserID, p.Token, p.OldStatus, p.NewStatus)
	case "process.progress":
		var p processProgressPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.process.HandleProgressUpdate(ctx, env.UserID, p.Token, p.Percent)
	case "process.results_available":
		var p processResultsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.process.HandleResultsAvailable(ctx, env.UserID, p.Token, p.DownloadURL)
	case "process.expiring":
		var p processExpiryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.process.HandleExpirationWarning(ctx, env.UserID, p.Token, p.ExpiresAt)
	case "queue.status_changed":
		var p queueStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.queue.HandleJobStatusChange(ctx, env.UserID, p.JobID, p.ProductName, p.OldStatus, p.NewStatus)
	case "queue.printer_assigned":
		var p printerAssignedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.queue.HandlePrinterAssignment(ctx, env.UserID, p.JobID, p.PrinterID, p.ProductName)
	case "queue.completion_reminder":
		var p completionReminderPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.queue.HandleCompletionReminder(ctx, env.UserID, p.JobID, p.ProductName, p.Status, p.RemainingMins)
	case "queue.high_priority":
		var p highPriorityPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return c.queue.NotifyHighPriorityItem(ctx, p.JobID, p.ProductName, p.Priority)
	default:
		c.logger.Debug("ignoring unknown event type", "type", env.Type)
		return nil
	}
}
