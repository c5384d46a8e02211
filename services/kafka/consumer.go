package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketplace-settlement/logger"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const EventEmailSend = "email.send"

// EmailEvent is the message queued on the email topic and delivered by
// EmailConsumer.
type EmailEvent struct {
	Event      string `json:"event"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Attachment string `json:"attachment,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func NewEmailEvent(to, subject, body, attachment string, at time.Time) EmailEvent {
	return EmailEvent{
		Event:      EventEmailSend,
		Recipient:  to,
		Subject:    subject,
		Body:       body,
		Attachment: attachment,
		Timestamp:  at.UTC().Format(time.RFC3339),
	}
}

// EmailSender delivers one email synchronously.
type EmailSender interface {
	Send(to, subject, body string, attachments ...string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EmailConsumer reads email events and hands them to an EmailSender.
// Messages that cannot be delivered go to the DLQ and are committed.
type EmailConsumer struct {
	reader messageReader
	sender EmailSender
	dlq    DeadLetterStore
	log    *logger.Logger
}

func NewEmailConsumer(brokers []string, topic, groupID string, sender EmailSender, dlq DeadLetterStore, log *logger.Logger) *EmailConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          brokers,
		Topic:            topic,
		GroupID:          groupID,
		StartOffset:      kafka.LastOffset,
		MaxBytes:         10e6,
		SessionTimeout:   20 * time.Second,
		ReadBackoffMin:   100 * time.Millisecond,
		ReadBackoffMax:   time.Second,
		QueueCapacity:    100,
		RebalanceTimeout: 60 * time.Second,
	})
	log.Info("Kafka consumer initialized. Brokers=%v, Topic=%s, ConsumerGroup=%s", brokers, topic, groupID)
	return &EmailConsumer{reader: reader, sender: sender, dlq: dlq, log: log}
}

// Run consumes until ctx is cancelled.
func (c *EmailConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Email consumer stopped")
				return
			}
			if !strings.Contains(err.Error(), "Group Coordinator Not Available") {
				c.log.Warn("Kafka fetch failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.Handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("Kafka commit failed at offset %d: %v", msg.Offset, err)
		}
	}
}

// Handle processes one message. It never fails: undeliverable messages are
// parked in the DLQ.
func (c *EmailConsumer) Handle(ctx context.Context, msg kafka.Message) {
	ctx, span := otel.Tracer("settlement").Start(extractTrace(ctx, msg), "email.deliver")
	defer span.End()

	var evt EmailEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.deadLetter(ctx, msg, fmt.Sprintf("invalid email event: %v", err))
		return
	}

	if evt.Event != EventEmailSend {
		c.log.Debug("Skipping event %q on %s", evt.Event, msg.Topic)
		return
	}
	if evt.Recipient == "" {
		c.deadLetter(ctx, msg, "email event has no recipient")
		return
	}

	var attachments []string
	if evt.Attachment != "" {
		attachments = append(attachments, evt.Attachment)
	}
	if err := c.sender.Send(evt.Recipient, evt.Subject, evt.Body, attachments...); err != nil {
		c.deadLetter(ctx, msg, err.Error())
		return
	}
	c.log.Info("Email sent to %s", evt.Recipient)
}

func (c *EmailConsumer) deadLetter(ctx context.Context, msg kafka.Message, reason string) {
	c.log.Warn("Moving message at offset %d to DLQ: %s", msg.Offset, reason)
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Store(ctx, msg.Topic, string(msg.Key), msg.Value, reason); err != nil {
		c.log.Error("Failed to store DLQ message: %v", err)
	}
}

func (c *EmailConsumer) Close() error {
	return c.reader.Close()
}
