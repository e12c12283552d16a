package orderservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/pricing"
	"github.com/ariefcatur/camrent-orders/internal/rentaldate"
)

type LineItem struct {
	ProductID string       `json:"productId"`
	Quantity  int          `json:"quantity"`
	Discount  orders.Money `json:"discount"`
}

// BuyRequest creates a purchase. ExternalID makes the call idempotent.
type BuyRequest struct {
	ExternalID     string       `json:"externalId"`
	VoucherID      *string      `json:"voucherId,omitempty"`
	DiscountAmount orders.Money `json:"discountAmount"`
	DeliveryMethod string       `json:"deliveryMethod"`
	Items          []LineItem   `json:"items"`
}

type RentRequest struct {
	BuyRequest
	RentalStartDate time.Time           `json:"rentalStartDate"`
	DurationUnit    orders.DurationUnit `json:"durationUnit"`
	DurationValue   int                 `json:"durationValue"`
	IsExtend        bool                `json:"isExtend"`
}

type Checkout struct {
	Order      *orders.Order `json:"order"`
	PaymentURL string        `json:"paymentUrl,omitempty"`
	Idempotent bool          `json:"idempotent"`
}

// CreateBuy prices the items from the product table, never from the client.
func (s *Service) CreateBuy(ctx context.Context, actor orders.Actor, req BuyRequest) (*Checkout, error) {
	if c, err := s.existing(ctx, actor, req.ExternalID); c != nil || err != nil {
		return c, err
	}
	lines, products, err := s.lines(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		p := products[lines[i].ProductID]
		lines[i].UnitPrice = p.Price
		lines[i].LineTotal = p.Price * orders.Money(lines[i].Quantity)
	}
	o := s.newOrder(actor, orders.OrderTypeBuy, req, lines, products)
	if err := applyDiscount(o, req.DiscountAmount); err != nil {
		return nil, err
	}
	return s.place(ctx, req.ExternalID, o)
}

// CreateRent prices a rental from the per-unit rates of every item. The rates
// and allowed ranges are snapshotted on the order for later extensions.
func (s *Service) CreateRent(ctx context.Context, actor orders.Actor, req RentRequest) (*Checkout, error) {
	if c, err := s.existing(ctx, actor, req.ExternalID); c != nil || err != nil {
		return c, err
	}
	if req.RentalStartDate.IsZero() {
		return nil, &orders.ValidationError{Field: "rentalStartDate", Reason: "required"}
	}
	lines, products, err := s.lines(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	rates, options := combine(lines, products)
	if _, err := pricing.Quote(req.DurationUnit, req.DurationValue, rates, options); err != nil {
		return nil, err
	}
	var deposit orders.Money
	for i := range lines {
		p := products[lines[i].ProductID]
		lines[i].UnitPrice = orders.Money(req.DurationValue) * p.Rates[req.DurationUnit]
		lines[i].LineTotal = lines[i].UnitPrice * orders.Money(lines[i].Quantity)
		lines[i].DepositPerUnit = p.Deposit
		deposit += p.Deposit * orders.Money(lines[i].Quantity)
	}

	o := s.newOrder(actor, orders.OrderTypeRent, req.BuyRequest, lines, products)
	if err := applyDiscount(o, req.DiscountAmount); err != nil {
		return nil, err
	}
	start := req.RentalStartDate.UTC()
	o.RentalStartDate = &start
	o.RentalEndDate = rentaldate.EndDate(&start, req.DurationValue, req.DurationUnit)
	o.DurationUnit = req.DurationUnit
	o.DurationValue = req.DurationValue
	o.Rates = rates
	o.DurationOptions = options
	o.IsExtend = req.IsExtend
	o.Deposit = deposit
	o.ReservationMoney = ledger.ReservationFor(o.TotalAmount, s.reservationRate)
	return s.place(ctx, req.ExternalID, o)
}

func (s *Service) existing(ctx context.Context, actor orders.Actor, externalID string) (*Checkout, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, nil
	}
	o, err := s.store.FindByExternalID(ctx, externalID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if o.AccountID != actor.ID {
		return nil, &orders.ValidationError{Field: "externalId", Reason: "already used"}
	}
	return s.checkout(ctx, o, true)
}

func (s *Service) lines(ctx context.Context, items []LineItem) ([]orders.OrderDetail, map[string]orders.Product, error) {
	if len(items) == 0 {
		return nil, nil, &orders.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	ids := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, nil, &orders.ValidationError{Field: "quantity", Reason: fmt.Sprintf("invalid quantity for product %s", it.ProductID)}
		}
		if it.Discount < 0 {
			return nil, nil, &orders.ValidationError{Field: "discount", Reason: "must not be negative"}
		}
		if seen[it.ProductID] {
			return nil, nil, &orders.ValidationError{Field: "items", Reason: fmt.Sprintf("product %s listed twice", it.ProductID)}
		}
		seen[it.ProductID] = true
		ids = append(ids, it.ProductID)
	}
	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	supplier := ""
	out := make([]orders.OrderDetail, 0, len(items))
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, nil, &orders.ValidationError{Field: "productId", Reason: fmt.Sprintf("product not found: %s", it.ProductID)}
		}
		if supplier != "" && p.SupplierID != supplier {
			return nil, nil, &orders.ValidationError{Field: "items", Reason: "all products must come from one supplier"}
		}
		supplier = p.SupplierID
		out = append(out, orders.OrderDetail{ProductID: p.ID, Quantity: it.Quantity, Discount: it.Discount})
	}
	return out, products, nil
}

// combine sums the per-unit rates over all lines and intersects the allowed
// ranges. A unit offered by only some products is not offered at all.
func combine(lines []orders.OrderDetail, products map[string]orders.Product) (orders.Rates, orders.DurationOptions) {
	rates := orders.Rates{}
	options := orders.DurationOptions{}
	for i, d := range lines {
		p := products[d.ProductID]
		for u, r := range p.DurationOptions {
			rate, ok := p.Rates[u]
			if !ok || rate <= 0 {
				continue
			}
			if i == 0 {
				options[u] = r
				rates[u] = rate * orders.Money(d.Quantity)
				continue
			}
			cur, ok := options[u]
			if !ok {
				continue
			}
			options[u] = orders.Range{Min: max(cur.Min, r.Min), Max: min(cur.Max, r.Max)}
			rates[u] += rate * orders.Money(d.Quantity)
		}
		for u := range options {
			if _, ok := p.DurationOptions[u]; !ok || p.Rates[u] <= 0 {
				delete(options, u)
				delete(rates, u)
			}
		}
	}
	for u, r := range options {
		if r.Min > r.Max {
			delete(options, u)
			delete(rates, u)
		}
	}
	return rates, options
}

// applyDiscount sets the single order discount. Line discounts only allocate
// it; when the order amount is unset it is their sum.
func applyDiscount(o *orders.Order, amount orders.Money) error {
	if amount < 0 {
		return &orders.ValidationError{Field: "discountAmount", Reason: "must not be negative"}
	}
	var lineSum orders.Money
	for _, d := range o.Details {
		lineSum += d.Discount
	}
	switch {
	case amount == 0:
		amount = lineSum
	case lineSum != 0 && lineSum != amount:
		return &orders.ValidationError{Field: "discount", Reason: "line discounts must add up to discountAmount"}
	}
	if amount > o.Subtotal() {
		return &orders.ValidationError{Field: "discountAmount", Reason: "discount cannot exceed subtotal"}
	}
	o.DiscountAmount = amount
	o.TotalAmount = o.ComputeTotal()
	return nil
}

func (s *Service) newOrder(actor orders.Actor, t orders.OrderType, req BuyRequest, lines []orders.OrderDetail, products map[string]orders.Product) *orders.Order {
	now := s.now()
	o := &orders.Order{
		ID:             uuid.NewString(),
		AccountID:      actor.ID,
		SupplierID:     products[lines[0].ProductID].SupplierID,
		OrderType:      t,
		OrderStatus:    orders.StatusPending,
		VoucherID:      req.VoucherID,
		DeliveryMethod: strings.TrimSpace(req.DeliveryMethod),
		Details:        lines,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return o
}

func (s *Service) place(ctx context.Context, externalID string, o *orders.Order) (*Checkout, error) {
	if err := s.store.CreateOrder(ctx, externalID, o); err != nil {
		return nil, err
	}
	s.events.OrderCreated(o)
	s.log.Info("order created",
		"order_id", o.ID, "type", o.OrderType.String(), "total", int64(o.TotalAmount),
		"deposit", int64(o.Deposit), "reservation", int64(o.ReservationMoney))
	return s.checkout(ctx, o, false)
}

// checkout attaches the payment redirect. Rentals pay the reservation money
// up front, purchases the whole total.
func (s *Service) checkout(ctx context.Context, o *orders.Order, idempotent bool) (*Checkout, error) {
	c := &Checkout{Order: o, Idempotent: idempotent}
	if o.IsPayment || o.OrderStatus != orders.StatusPending {
		return c, nil
	}
	amount := o.TotalAmount
	if o.IsRent() {
		amount = o.ReservationMoney
	}
	u, err := s.payments.CheckoutURL(ctx, o, amount)
	if err != nil {
		return nil, fmt.Errorf("payment url for order %s: %w", o.ID, err)
	}
	c.PaymentURL = u
	return c, nil
}

// Replay answers a repeated create for an order already placed by actor.
func (s *Service) Replay(ctx context.Context, actor orders.Actor, orderID string) (*Checkout, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.AccountID != actor.ID {
		return nil, &orders.ValidationError{Field: "externalId", Reason: "already used"}
	}
	return s.checkout(ctx, o, true)
}
