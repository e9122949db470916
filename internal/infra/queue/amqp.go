package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// AMQPSignalSource читает пачки сигналов из очереди RabbitMQ.
// Внешний опросник леджера публикует туда SignalBundle в JSON.
type AMQPSignalSource struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

var _ domain.SignalSource = (*AMQPSignalSource)(nil)

// NewAMQPSignalSource подключается к брокеру и объявляет очередь.
func NewAMQPSignalSource(url, queue string) (*AMQPSignalSource, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("consume queue: %w", err)
	}
	return &AMQPSignalSource{conn: conn, channel: channel, queue: queue, deliveries: deliveries}, nil
}

// Pop блокирующе читает одну пачку сигналов.
// Сообщения с неразборным телом подтверждаются и пропускаются:
// повторная доставка им не поможет.
func (s *AMQPSignalSource) Pop(ctx context.Context) (domain.SignalBundle, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.SignalBundle{}, ctx.Err()
		case delivery, ok := <-s.deliveries:
			if !ok {
				return domain.SignalBundle{}, errors.New("amqp: канал доставки закрыт")
			}
			start := time.Now()
			var bundle domain.SignalBundle
			if err := json.Unmarshal(delivery.Body, &bundle); err != nil {
				_ = delivery.Ack(false)
				metrics.ObserveNetworkRequest("amqp", "consume", s.queue, start, err)
				continue
			}
			if err := delivery.Ack(false); err != nil {
				metrics.ObserveNetworkRequest("amqp", "consume", s.queue, start, err)
				return domain.SignalBundle{}, fmt.Errorf("ack delivery: %w", err)
			}
			metrics.ObserveNetworkRequest("amqp", "consume", s.queue, start, nil)
			return bundle, nil
		}
	}
}

// Close закрывает канал и подключение.
func (s *AMQPSignalSource) Close() error {
	if err := s.channel.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
