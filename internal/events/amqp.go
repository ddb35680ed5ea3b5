package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultDialTimeout = 3 * time.Second

// AMQPNotifier publishes events to a durable topic exchange, routed by event
// type. The connection is opened lazily and re-opened after a failure.
type AMQPNotifier struct {
	url         string
	exchange    string
	dialTimeout time.Duration
	logger      *slog.Logger

	// sem serialises access to the connection; waiters give up when their
	// context ends.
	sem  chan struct{}
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPNotifier(url, exchange string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{
		url:         url,
		exchange:    exchange,
		dialTimeout: defaultDialTimeout,
		logger:      logger,
		sem:         make(chan struct{}, 1),
	}
}

func (n *AMQPNotifier) lock(ctx context.Context) error {
	select {
	case n.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *AMQPNotifier) unlock() { <-n.sem }

// channel returns the open channel, dialing if needed. The dial and the AMQP
// handshake are bounded by the dial timeout or the context deadline,
// whichever is sooner.
func (n *AMQPNotifier) channel(ctx context.Context) (*amqp.Channel, error) {
	if n.ch != nil && !n.ch.IsClosed() {
		return n.ch, nil
	}
	n.reset()

	timeout := n.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("amqp dial: %w", context.DeadlineExceeded)
	}

	conn, err := amqp.DialConfig(n.url, amqp.Config{
		Dial: amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		n.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	n.conn, n.ch = conn, ch
	n.logger.Info("amqp connected", "exchange", n.exchange)
	return ch, nil
}

func (n *AMQPNotifier) reset() {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.ch, n.conn = nil, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.lock(ctx); err != nil {
		return fmt.Errorf("amqp publish %s: %w", ev.Type, err)
	}
	defer n.unlock()

	ch, err := n.channel(ctx)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		n.exchange,
		ev.Type, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Type:         ev.Type,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		n.reset()
		return fmt.Errorf("amqp publish %s: %w", ev.Type, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.sem <- struct{}{}
	defer n.unlock()
	n.reset()
	return nil
}
