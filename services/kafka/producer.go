package kafka

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"marketplace-settlement/logger"

	"github.com/segmentio/kafka-go"
)

// DeadLetterStore keeps messages that could not be published or processed.
type DeadLetterStore interface {
	Store(ctx context.Context, topic, key string, value []byte, errMsg string) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON messages with retry and falls back to the DLQ.
// A Producer built without brokers accepts and drops every message.
type Producer struct {
	mu       sync.Mutex
	writer   messageWriter
	dlq      DeadLetterStore
	log      *logger.Logger
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

func NewProducer(brokers []string, dlq DeadLetterStore, log *logger.Logger) *Producer {
	p := &Producer{dlq: dlq, log: log, attempts: 3, backoff: time.Second, timeout: 5 * time.Second}
	if len(brokers) == 0 {
		log.Info("Kafka is disabled (KAFKA_BROKERS is empty)")
		return p
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka producer initialized. Brokers=%v", brokers)
	return p
}

func (p *Producer) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer != nil
}

// Publish marshals value to JSON and writes it to topic, retrying with
// exponential backoff. After the last attempt the payload goes to the DLQ and
// the write error is returned.
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	p.mu.Lock()
	writer := p.writer
	p.mu.Unlock()
	if writer == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		p.log.Error("Error marshaling Kafka message for %s: %v", topic, err)
		return err
	}

	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: payload}
	injectTrace(ctx, &msg)

	var lastErr error
retry:
	for attempt := 0; attempt < p.attempts; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, p.timeout)
		lastErr = writer.WriteMessages(wctx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}

		p.log.Warn("Kafka publish attempt %d to %s failed: %v", attempt+1, topic, lastErr)
		if attempt == p.attempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * p.backoff
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(wait):
		}
	}

	if p.dlq != nil {
		// the caller's context may already be done; the DLQ write must still happen
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if dlqErr := p.dlq.Store(dctx, topic, key, payload, lastErr.Error()); dlqErr != nil {
			p.log.Error("Failed to send message to DLQ: %v", dlqErr)
		}
	}
	return lastErr
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

// EnsureTopics creates the given topics on the first broker, treating
// "already exists" as success. It retries with exponential backoff.
func EnsureTopics(ctx context.Context, brokers []string, topics []string, log *logger.Logger) {
	if len(brokers) == 0 {
		return
	}
	const maxRetries = 5
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(math.Pow(2, float64(attempt))) * time.Second):
			}
		}

		conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			if attempt == maxRetries-1 {
				log.Warn("Could not connect to Kafka broker for topic creation after %d attempts: %v", maxRetries, err)
			}
			continue
		}

		ok := 0
		for _, topic := range topics {
			err := conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
			if err == nil || strings.Contains(strings.ToLower(err.Error()), "already exists") {
				ok++
			}
		}
		conn.Close()

		if ok == len(topics) {
			log.Info("Kafka topics ready: %v", topics)
			return
		}
	}
}
