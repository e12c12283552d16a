package orders

import (
	"fmt"
	"strings"
	"time"
)

// Money is an amount in the smallest currency unit.
type Money int64

type OrderType int

const (
	OrderTypeBuy  OrderType = 0
	OrderTypeRent OrderType = 1
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeBuy:
		return "BUY"
	case OrderTypeRent:
		return "RENT"
	}
	return fmt.Sprintf("ORDER_TYPE(%d)", int(t))
}

type DurationUnit int

const (
	UnitHour  DurationUnit = 0
	UnitDay   DurationUnit = 1
	UnitWeek  DurationUnit = 2
	UnitMonth DurationUnit = 3
)

var unitNames = map[DurationUnit]string{
	UnitHour:  "hour",
	UnitDay:   "day",
	UnitWeek:  "week",
	UnitMonth: "month",
}

func (u DurationUnit) String() string {
	if n, ok := unitNames[u]; ok {
		return n
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

func (u DurationUnit) Valid() bool {
	_, ok := unitNames[u]
	return ok
}

// ParseDurationUnit accepts "hour", "day", "week", "month" (any case, plural ok).
func ParseDurationUnit(s string) (DurationUnit, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for u, n := range unitNames {
		if n == s {
			return u, nil
		}
	}
	return 0, &ValidationError{Field: "durationUnit", Reason: fmt.Sprintf("unknown unit %q", s)}
}

// Rates maps a duration unit to the per-unit rental rate.
type Rates map[DurationUnit]Money

// Range is the inclusive allowed duration value range for a unit.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DurationOptions maps a duration unit to its allowed range. A unit missing
// from the map cannot be rented.
type DurationOptions map[DurationUnit]Range

type Order struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"accountId"`
	SupplierID       string          `json:"supplierId"`
	OrderType        OrderType       `json:"orderType"`
	OrderStatus      Status          `json:"orderStatus"`
	TotalAmount      Money           `json:"totalAmount"`
	Deposit          Money           `json:"deposit"`
	ReservationMoney Money           `json:"reservationMoney"`
	VoucherID        *string         `json:"voucherId,omitempty"`
	DiscountAmount   Money           `json:"discountAmount"`
	RentalStartDate  *time.Time      `json:"rentalStartDate,omitempty"`
	RentalEndDate    *time.Time      `json:"rentalEndDate,omitempty"`
	DurationUnit     DurationUnit    `json:"durationUnit"`
	DurationValue    int             `json:"durationValue"`
	Rates            Rates           `json:"rates,omitempty"`
	DurationOptions  DurationOptions `json:"durationOptions,omitempty"`
	IsExtend         bool            `json:"isExtend"`
	IsPayment        bool            `json:"isPayment"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	DeliveryMethod   string          `json:"deliveryMethod,omitempty"`
	CancelMessage    string          `json:"cancelMessage,omitempty"`
	CancelledAt      *time.Time      `json:"cancelledAt,omitempty"` // when cancellation was requested
	RefundAmount     Money           `json:"refundAmount"`
	Details          []OrderDetail   `json:"orderDetails"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (o *Order) IsRent() bool { return o.OrderType == OrderTypeRent }

// Subtotal is the sum of line totals before the order discount.
func (o *Order) Subtotal() Money {
	var sum Money
	for _, d := range o.Details {
		sum += d.LineTotal
	}
	return sum
}

// ComputeTotal applies the single total formula: Σ line totals − discount,
// floored at zero.
func (o *Order) ComputeTotal() Money {
	t := o.Subtotal() - o.DiscountAmount
	if t < 0 {
		return 0
	}
	return t
}

type OrderDetail struct {
	ProductID      string `json:"productId"`
	UnitPrice      Money  `json:"productPrice"`
	Quantity       int    `json:"quantity"`
	Discount       Money  `json:"discount"`
	LineTotal      Money  `json:"productPriceTotal"`
	DepositPerUnit Money  `json:"depositProduct,omitempty"`
}

type ExtensionStatus int

const (
	ExtensionProposed ExtensionStatus = 0
	ExtensionAccepted ExtensionStatus = 1
	ExtensionRejected ExtensionStatus = 2
)

type Extension struct {
	ID             string          `json:"extendId"`
	OrderID        string          `json:"orderId"`
	DurationUnit   DurationUnit    `json:"durationUnit"`
	DurationValue  int             `json:"durationValue"`
	PrevEndDate    time.Time       `json:"prevEndDate"`
	NewEndDate     time.Time       `json:"extendReturnDate"`
	ReturnBy       time.Time       `json:"returnBy"`
	AdditionalCost Money           `json:"totalAmount"`
	Status         ExtensionStatus `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type ReturnDetail struct {
	ID             string     `json:"returnID"`
	OrderID        string     `json:"orderID"`
	ReturnDate     time.Time  `json:"returnDate"`
	Condition      string     `json:"condition"`
	PenaltyApplied Money      `json:"penaltyApplied"`
	ReconciledAt   *time.Time `json:"reconciledAt,omitempty"`
}

func (r *ReturnDetail) Reconciled() bool { return r.ReconciledAt != nil }

// Product is the read replica of a catalog entry used to price new orders.
type Product struct {
	ID              string
	SupplierID      string
	Name            string
	Price           Money
	Deposit         Money
	Rates           Rates
	DurationOptions DurationOptions
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type StatusChange struct {
	OrderID   string    `json:"orderId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   string    `json:"actorId"`
	ActorRole string    `json:"actorRole"`
	At        time.Time `json:"at"`
}
