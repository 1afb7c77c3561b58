package mq

import (
	"context"
	"fmt"

	"github.com/contactbook/apiserver/config"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Queue wraps a backend with a stable API.
type Queue struct {
	backend Backend
}

// New constructs a Queue wrapper for the provided backend.
func New(backend Backend) *Queue {
	return &Queue{backend: backend}
}

// NewFromConfig constructs a Queue with the configured backend.
func NewFromConfig(ctx context.Context, cfg config.MQConfig) (*Queue, error) {
	switch cfg.Backend {
	case "rabbitmq":
		backend, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	case "pubsub":
		backend, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

// Publish sends a message to the named channel.
func (q *Queue) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return q.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel.
func (q *Queue) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return q.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (q *Queue) Close() error {
	return q.backend.Close()
}
