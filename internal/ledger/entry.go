package ledger

import (
	"time"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

type EntryKind string

const (
	KindDepositRefund      EntryKind = "DEPOSIT_REFUND"
	KindDepositRetained    EntryKind = "DEPOSIT_RETAINED"
	KindReservationRefund  EntryKind = "RESERVATION_REFUND"
	KindReservationForfeit EntryKind = "RESERVATION_FORFEIT"
	KindPenaltyOwed        EntryKind = "PENALTY_OWED" // manual follow-up
	KindPaymentRefund      EntryKind = "PAYMENT_REFUND"
)

// Entry is one money movement booked against an order.
type Entry struct {
	ID        string       `json:"id"`
	OrderID   string       `json:"orderId"`
	EventID   string       `json:"eventId"`
	Kind      EntryKind    `json:"kind"`
	Amount    orders.Money `json:"amount"`
	CreatedAt time.Time    `json:"createdAt"`
}

// SettlementEntries books a return settlement. Zero amounts are skipped.
func SettlementEntries(orderID string, s Settlement) []Entry {
	return nonZero(orderID, []Entry{
		{Kind: KindDepositRefund, Amount: s.Refund},
		{Kind: KindDepositRetained, Amount: s.Retained},
		{Kind: KindPenaltyOwed, Amount: s.ExcessOwed},
	})
}

// CancellationEntries books the reservation money of a cancelled order.
func CancellationEntries(orderID string, reservation orders.Money, paidAt *time.Time, cancelAt time.Time) []Entry {
	refund, forfeit := CancellationRefund(reservation, paidAt, cancelAt)
	return nonZero(orderID, []Entry{
		{Kind: KindReservationRefund, Amount: refund},
		{Kind: KindReservationForfeit, Amount: forfeit},
	})
}

// RefundEntries books the finalized refund of a cancelled order: the
// reservation split for rentals, the refunded payment for purchases.
func RefundEntries(o *orders.Order) []Entry {
	if o.IsRent() {
		if o.CancelledAt == nil {
			return nil
		}
		return CancellationEntries(o.ID, o.ReservationMoney, o.PaidAt, *o.CancelledAt)
	}
	return nonZero(o.ID, []Entry{{Kind: KindPaymentRefund, Amount: o.RefundAmount}})
}

func nonZero(orderID string, in []Entry) []Entry {
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		if e.Amount == 0 {
			continue
		}
		e.OrderID = orderID
		out = append(out, e)
	}
	return out
}
