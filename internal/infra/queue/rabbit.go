package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"shopfloor-costing/internal/infra/metrics"
)

// RabbitNudge — сигнальный канал «в очереди пересчёта появились задачи».
// Сами задачи лежат в Postgres; сообщение здесь только будит воркера,
// поэтому тело пустое и потеря сообщения не страшна (есть тикер-фолбэк).
type RabbitNudge struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitNudge подключается к RabbitMQ и объявляет durable-очередь.
func NewRabbitNudge(amqpURL, queue string) (*RabbitNudge, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitNudge{conn: conn, ch: ch, queue: queue}, nil
}

// Notify публикует пустое сообщение-сигнал.
func (n *RabbitNudge) Notify(ctx context.Context) error {
	start := time.Now()
	err := n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", n.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish nudge: %w", err)
	}
	return nil
}

// Wait блокируется до прихода сигнала или отмены контекста. Потребитель
// регистрируется на канале один раз, при первом вызове; последующие вызовы
// читают тот же поток доставок. Wait рассчитан на одного слушателя.
func (n *RabbitNudge) Wait(ctx context.Context) error {
	if n.deliveries == nil {
		deliveries, err := n.ch.Consume(n.queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		n.deliveries = deliveries
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d, ok := <-n.deliveries:
		if !ok {
			return errors.New("amqp channel closed")
		}
		return d.Ack(false)
	}
}

// Close закрывает канал и соединение.
func (n *RabbitNudge) Close() error {
	if err := n.ch.Close(); err != nil {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}
