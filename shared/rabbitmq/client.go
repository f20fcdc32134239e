// Package rabbitmq provides the broker client used to publish enrichment
// lifecycle events. The pipeline dispatches work in-process; the broker is
// an outbound collaborator surface only.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection and topology configuration.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ExchangeName      string
	ExchangeType      string
	ExchangeDurable   bool
	QueueName         string
	QueueDurable      bool
	RoutingKey        string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
}

// Publisher is a publish-only RabbitMQ client.
type Publisher struct {
	config  *Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewPublisher connects, declares the exchange/queue topology, and returns a
// ready publisher.
func NewPublisher(config *Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{config: config, logger: logger}
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ publisher: %w", err)
	}
	return p, nil
}

func (p *Publisher) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		p.config.User,
		p.config.Password,
		p.config.Host,
		p.config.Port,
		p.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: p.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := p.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		p.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		p.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		p.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(p.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	p.channel, err = p.conn.Channel()
	if err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := p.setup(); err != nil {
		p.channel.Close()
		p.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	p.logger.Info("RabbitMQ publisher initialized",
		slog.String("exchange", p.config.ExchangeName),
		slog.String("queue", p.config.QueueName),
	)
	return nil
}

// setup declares the exchange, the queue, and the binding between them.
func (p *Publisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.config.ExchangeName,
		p.config.ExchangeType,
		p.config.ExchangeDurable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = p.channel.QueueDeclare(
		p.config.QueueName,
		p.config.QueueDurable,
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = p.channel.QueueBind(
		p.config.QueueName,
		p.config.RoutingKey,
		p.config.ExchangeName,
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Publish sends a persistent message to the configured exchange.
func (p *Publisher) Publish(ctx context.Context, body []byte, contentType string) error {
	err := p.channel.PublishWithContext(
		ctx,
		p.config.ExchangeName,
		p.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish message to RabbitMQ",
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
	)
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.logger.Info("Closing RabbitMQ connection")

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}
	return nil
}
