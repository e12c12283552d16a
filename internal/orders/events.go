package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventStatusChanged = "OrderStatusChanged"
	EventOrderSettled  = "OrderSettled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID          string    `json:"order_id"`
	AccountID        string    `json:"account_id"`
	OrderType        OrderType `json:"order_type"`
	TotalAmount      Money     `json:"total_amount"`
	Deposit          Money     `json:"deposit"`
	ReservationMoney Money     `json:"reservation_money"`
}

// StatusChangedPayload carries enough money fields for the settlement
// consumer to book cancellation refunds without reading the order back.
type StatusChangedPayload struct {
	OrderID          string     `json:"order_id"`
	OrderType        OrderType  `json:"order_type"`
	From             Status     `json:"from"`
	To               Status     `json:"to"`
	ActorID          string     `json:"actor_id"`
	ActorRole        string     `json:"actor_role"`
	ReservationMoney Money      `json:"reservation_money"`
	Deposit          Money      `json:"deposit"`
	RefundAmount     Money      `json:"refund_amount"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	ChangedAt        time.Time  `json:"changed_at"`
}

type OrderSettledPayload struct {
	OrderID    string `json:"order_id"`
	Deposit    Money  `json:"deposit"`
	Penalty    Money  `json:"penalty"`
	Refund     Money  `json:"refund"`
	Retained   Money  `json:"retained"`
	ExcessOwed Money  `json:"excess_owed"`
}
