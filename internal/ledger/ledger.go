// Package ledger holds the money rules for rent orders: reservation money
// refunds on cancellation and deposit settlement on return.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// RefundWindow is measured from payment confirmation, not order creation.
const RefundWindow = 24 * time.Hour

// Settlement is the outcome of settling a deposit against a return penalty.
type Settlement struct {
	Deposit    orders.Money `json:"deposit"`
	Penalty    orders.Money `json:"penalty"`
	Refund     orders.Money `json:"refund"`
	Retained   orders.Money `json:"retained"`
	ExcessOwed orders.Money `json:"excessOwed"`
}

// NeedsFollowUp is true when the penalty exceeded the deposit. The excess is
// not collected in-band.
func (s Settlement) NeedsFollowUp() bool { return s.ExcessOwed > 0 }

// SettleReturn computes refund = deposit − min(penalty, deposit). Negative
// inputs are treated as zero.
func SettleReturn(deposit, penalty orders.Money) Settlement {
	if deposit < 0 {
		deposit = 0
	}
	if penalty < 0 {
		penalty = 0
	}
	retained := min(penalty, deposit)
	return Settlement{
		Deposit:    deposit,
		Penalty:    penalty,
		Refund:     deposit - retained,
		Retained:   retained,
		ExcessOwed: penalty - retained,
	}
}

// CancellationRefund is the reservation money returned to the buyer when an
// order is cancelled at cancelAt. Inside the window the full reservation goes
// back; at or after 24h it is forfeited. Unpaid orders hold nothing.
func CancellationRefund(reservation orders.Money, paidAt *time.Time, cancelAt time.Time) (refund, forfeit orders.Money) {
	if paidAt == nil || reservation <= 0 {
		return 0, 0
	}
	if WithinRefundWindow(*paidAt, cancelAt) {
		return reservation, 0
	}
	return 0, reservation
}

// WithinRefundWindow reports whether cancelAt is strictly less than 24h after
// paidAt.
func WithinRefundWindow(paidAt, cancelAt time.Time) bool {
	return cancelAt.Sub(paidAt) < RefundWindow
}

// ReservationFor is rate × total rounded half-up to a whole unit. Rates
// outside [0, 1] are clamped.
func ReservationFor(total orders.Money, rate decimal.Decimal) orders.Money {
	if total <= 0 || rate.Sign() <= 0 {
		return 0
	}
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		rate = decimal.NewFromInt(1)
	}
	return orders.Money(decimal.NewFromInt(int64(total)).Mul(rate).Round(0).IntPart())
}

// OrderRefund is what a paid order hands back when its cancellation is
// finalized. Rent payments capture the reservation money, which follows the
// 24h window; buy payments capture the total, which is returned in full.
func OrderRefund(o *orders.Order, cancelAt time.Time) orders.Money {
	if !o.IsPayment || o.PaidAt == nil {
		return 0
	}
	if o.IsRent() {
		refund, _ := CancellationRefund(o.ReservationMoney, o.PaidAt, cancelAt)
		return refund
	}
	return o.TotalAmount
}
