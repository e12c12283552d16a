// Package settlement books money movements for order events: reservation
// refunds and forfeits when a cancellation is finalized, deposit refunds and
// retentions when a return is reconciled.
package settlement

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/camrent-orders/internal/kafka"
	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// Booker is satisfied by *ledger.Repo.
type Booker interface {
	Book(ctx context.Context, entries []ledger.Entry) (int, error)
}

// Deduper is satisfied by redisx.Dedup.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Service struct {
	Ledger Booker
	Dedup  Deduper
	Log    *logger.Logger
}

// Handle is the consumer handler for order.status.changed and order.settled.
// A nil return commits the offset.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// undecodable messages are logged and committed
		s.log().Error("dropping undecodable message", "topic", m.Topic, "offset", m.Offset, err)
		return nil
	}

	if seen, err := s.Dedup.Seen(ctx, env.EventID); err != nil {
		s.log().Warn("dedup lookup failed, relying on ledger uniqueness", "event_id", env.EventID, err)
	} else if seen {
		return nil
	}

	entries, err := entriesFor(env)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].EventID = env.EventID
		entries[i].CreatedAt = env.OccurredAt
	}

	n, err := s.Ledger.Book(ctx, entries)
	if err != nil {
		return fmt.Errorf("book %s for order %s: %w", env.EventType, env.CorrelationID, err)
	}
	if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
		s.log().Warn("dedup mark failed", "event_id", env.EventID, err)
	}
	if n > 0 {
		s.log().Info("ledger booked", "event_id", env.EventID, "event_type", env.EventType, "order_id", env.CorrelationID, "entries", n)
	}
	return nil
}

func entriesFor(env orders.Envelope) ([]ledger.Entry, error) {
	switch env.EventType {
	case orders.EventOrderSettled:
		p, err := kafkax.UnwrapPayload[orders.OrderSettledPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return ledger.SettlementEntries(p.OrderID, ledger.Settlement{
			Deposit:    p.Deposit,
			Penalty:    p.Penalty,
			Refund:     p.Refund,
			Retained:   p.Retained,
			ExcessOwed: p.ExcessOwed,
		}), nil

	case orders.EventStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		if p.From != orders.StatusCancelAccepted || p.To != orders.StatusCancelled {
			return nil, nil
		}
		return ledger.RefundEntries(&orders.Order{
			ID:               p.OrderID,
			OrderType:        p.OrderType,
			ReservationMoney: p.ReservationMoney,
			RefundAmount:     p.RefundAmount,
			IsPayment:        p.PaidAt != nil,
			PaidAt:           p.PaidAt,
			CancelledAt:      p.CancelledAt,
		}), nil
	}
	return nil, nil
}

func (s *Service) log() *logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}
