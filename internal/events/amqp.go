package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"
)

const (
	DefaultExchange = "device-fleet"
	exchangeType    = "topic"
)

// AMQPPublisher publishes events to a durable topic exchange, routed by
// event kind. The connection is re-established with exponential backoff
// whenever the broker closes it.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewAMQPPublisher(url string, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, exchange: DefaultExchange, logger: logger}
}

func (p *AMQPPublisher) log(level slog.Level, msg string, args ...any) {
	if p.logger != nil {
		p.logger.Log(context.Background(), level, msg, args...)
	}
}

// Start connects to the broker, retrying until ctx is done.
func (p *AMQPPublisher) Start(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(p.connect, policy); err != nil {
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	go p.notifyWhenClosed()
	return nil
}

func (p *AMQPPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return errors.New("AMQP publisher is not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = p.channel.Publish(
		p.exchange,
		string(event.Kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Time,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("error publishing event %s: %w", event.Kind, err)
	}

	return nil
}

func (p *AMQPPublisher) notifyWhenClosed() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	reason := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if reason == nil {
		return
	}

	p.log(slog.LevelWarn, "AMQP connection closed", "reason", reason.Error())

	if err := backoff.Retry(p.reconnect, backoff.NewExponentialBackOff()); err != nil {
		p.log(slog.LevelError, "AMQP reconnect failed", "error", err)
		return
	}

	go p.notifyWhenClosed()
}

func (p *AMQPPublisher) reconnect() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return backoff.Permanent(errors.New("publisher stopped"))
	}
	return p.connect()
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log(slog.LevelDebug, "AMQP dial failed", "error", err)
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	err = channel.ExchangeDeclare(
		p.exchange,
		exchangeType,
		true,  // durable
		false, // delete when complete
		false, // internal
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("error declaring exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = channel
	p.mu.Unlock()

	p.log(slog.LevelDebug, "AMQP publisher connected", "exchange", p.exchange)
	return nil
}
