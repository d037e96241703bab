package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type stubAcker struct {
	acked int
}

func (a *stubAcker) Ack(uint64, bool) error        { a.acked++; return nil }
func (a *stubAcker) Nack(uint64, bool, bool) error { return nil }
func (a *stubAcker) Reject(uint64, bool) error     { return nil }

func TestWaitReusesSingleConsumer(t *testing.T) {
	acker := &stubAcker{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2}

	// ch специально nil: попытка повторной регистрации потребителя
	// уронила бы тест паникой.
	n := &RabbitNudge{deliveries: deliveries}

	for i := 0; i < 2; i++ {
		if err := n.Wait(context.Background()); err != nil {
			t.Fatalf("Wait #%d: неожиданная ошибка %v", i+1, err)
		}
	}
	if acker.acked != 2 {
		t.Fatalf("подтверждено доставок %d, ожидалось 2", acker.acked)
	}
}

func TestWaitStopsOnContextCancel(t *testing.T) {
	n := &RabbitNudge{deliveries: make(chan amqp.Delivery)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := n.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидалась отмена контекста, получено %v", err)
	}
}

func TestWaitReportsClosedChannel(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	n := &RabbitNudge{deliveries: deliveries}

	if err := n.Wait(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка закрытого канала")
	}
}
