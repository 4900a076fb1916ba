package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gleamora/push-pipeline/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "push.dlx"
	dlqQueueName    = "dlq.push"
	dlqRoutingKey   = "push"

	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// DeadLetterPublisher mirrors exhausted queue items to durable storage so
// they survive a process restart. Publishing is best effort; the in-memory
// dead-letter list stays authoritative for the running process.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, letter domain.DeadLetter) error
	Close() error
}

// RabbitMQ manages broker connectivity and dead-letter topology declaration.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}
		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		dlxExchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		dlqQueueName,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqQueueName, err)
	}

	if err := ch.QueueBind(dlqQueueName, dlqRoutingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqQueueName, err)
	}

	return nil
}

// RabbitMQDeadLetterMirror publishes dead letters as persistent JSON
// messages on dlq.push for offline inspection and replay tooling.
type RabbitMQDeadLetterMirror struct {
	client *RabbitMQ
}

func NewRabbitMQDeadLetterMirror(client *RabbitMQ) *RabbitMQDeadLetterMirror {
	return &RabbitMQDeadLetterMirror{client: client}
}

func (m *RabbitMQDeadLetterMirror) PublishDeadLetter(ctx context.Context, letter domain.DeadLetter) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("dead-letter mirror is not initialized")
	}

	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	ch, err := m.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     letter.FailedAt,
		MessageId:     letter.Item.ID,
		CorrelationId: letter.Item.RequestID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, dlxExchangeName, dlqRoutingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish dead letter to %q: %w", dlqQueueName, err)
	}

	return nil
}

func (m *RabbitMQDeadLetterMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
