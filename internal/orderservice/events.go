package orderservice

import (
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/camrent-orders/internal/kafka"
	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Events publishes order events, one publisher per topic. A nil *Events
// publishes nothing.
type Events struct {
	Created       Publisher
	StatusChanges Publisher
	Settlements   Publisher
	Producer      string
}

func (e *Events) OrderCreated(o *orders.Order) {
	if e == nil || e.Created == nil {
		return
	}
	e.publish(e.Created, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:          o.ID,
		AccountID:        o.AccountID,
		OrderType:        o.OrderType,
		TotalAmount:      o.TotalAmount,
		Deposit:          o.Deposit,
		ReservationMoney: o.ReservationMoney,
	})
}

func (e *Events) StatusChanged(o *orders.Order, c orders.StatusChange) {
	if e == nil || e.StatusChanges == nil {
		return
	}
	e.publish(e.StatusChanges, orders.EventStatusChanged, o.ID, orders.StatusChangedPayload{
		OrderID:          o.ID,
		OrderType:        o.OrderType,
		From:             c.From,
		To:               c.To,
		ActorID:          c.ActorID,
		ActorRole:        c.ActorRole,
		ReservationMoney: o.ReservationMoney,
		Deposit:          o.Deposit,
		RefundAmount:     o.RefundAmount,
		PaidAt:           o.PaidAt,
		CancelledAt:      o.CancelledAt,
		ChangedAt:        c.At,
	})
}

func (e *Events) Settled(o *orders.Order, s ledger.Settlement) {
	if e == nil || e.Settlements == nil {
		return
	}
	e.publish(e.Settlements, orders.EventOrderSettled, o.ID, orders.OrderSettledPayload{
		OrderID:    o.ID,
		Deposit:    s.Deposit,
		Penalty:    s.Penalty,
		Refund:     s.Refund,
		Retained:   s.Retained,
		ExcessOwed: s.ExcessOwed,
	})
}

func (e *Events) publish(p Publisher, eventType, orderID string, payload any) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Producer,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
