// Package orderservice is the authoritative side of the order lifecycle: it
// re-validates every request against the stored order, persists it with an
// optimistic status check and publishes the resulting events.
package orderservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/lifecycle"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/payment"
)

// Service implements lifecycle.OrderService in-process.
type Service struct {
	store           Store
	events          *Events
	payments        payment.Gateway
	reservationRate decimal.Decimal
	log             *logger.Logger
	now             func() time.Time
}

type Options struct {
	Events          *Events // nil disables publishing
	Payments        payment.Gateway
	ReservationRate decimal.Decimal
	Logger          *logger.Logger
	Now             func() time.Time
}

func New(store Store, opt Options) *Service {
	s := &Service{
		store:           store,
		events:          opt.Events,
		payments:        opt.Payments,
		reservationRate: opt.ReservationRate,
		log:             opt.Logger,
		now:             opt.Now,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.Named("orderservice")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.payments == nil {
		s.payments = payment.Noop{}
	}
	return s
}

var _ lifecycle.OrderService = (*Service)(nil)

func (s *Service) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) GetReturnDetail(ctx context.Context, orderID string) (*orders.ReturnDetail, error) {
	return s.store.GetReturnDetail(ctx, orderID)
}

func (s *Service) GetExtension(ctx context.Context, extID string) (*orders.Extension, error) {
	return s.store.GetExtension(ctx, extID)
}

// UpdateStatus applies one edge to the stored order.
func (s *Service) UpdateStatus(ctx context.Context, actor orders.Actor, req lifecycle.StatusRequest) (*orders.Order, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.OrderStatus != req.Expected {
		return nil, &orders.StateConflictError{OrderID: o.ID}
	}
	if req.Op == orders.OpComplete && o.IsRent() {
		if _, err := s.store.GetReturnDetail(ctx, o.ID); err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				return nil, orders.ErrReturnDetailRequired
			}
			return nil, err
		}
	}

	now := s.now()
	from := o.OrderStatus
	if err := applyOp(o, req.Op, req.Reason, now); err != nil {
		return nil, err
	}
	change := orders.StatusChange{
		OrderID:   o.ID,
		From:      from,
		To:        o.OrderStatus,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		At:        now,
	}
	if err := s.store.UpdateOrder(ctx, o, from, change); err != nil {
		return nil, err
	}
	s.events.StatusChanged(o, change)
	s.log.Info("status updated", "order_id", o.ID, "op", string(req.Op), "from", from.String(), "to", o.OrderStatus.String(), "actor_id", actor.ID)
	return o, nil
}

// applyOp mutates o for op. Reconciliation has its own entry point.
func applyOp(o *orders.Order, op orders.Op, reason string, now time.Time) error {
	to, ok := orders.Target(o.OrderType, o.OrderStatus, op)
	if !ok || op == orders.OpReconcile {
		return &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: op}
	}
	switch op {
	case orders.OpShip:
		if strings.TrimSpace(o.DeliveryMethod) == "" {
			return orders.ErrDeliveryMethodRequired
		}
	case orders.OpPlaced:
		if o.IsPayment {
			return orders.ErrAlreadyPaid
		}
		o.IsPayment = true
		o.PaidAt = &now
	case orders.OpCancel, orders.OpPendingRefund:
		if strings.TrimSpace(reason) == "" {
			return &orders.ValidationError{Field: "reason", Reason: "cancellation message is required"}
		}
		if op == orders.OpCancel && o.IsPayment {
			return &orders.ValidationError{Field: "op", Reason: "paid orders are cancelled through pending-refund"}
		}
		if op == orders.OpPendingRefund && !o.IsPayment {
			return &orders.ValidationError{Field: "op", Reason: "nothing to refund on an unpaid order"}
		}
		o.CancelMessage = reason
		o.CancelledAt = &now
	case orders.OpRefund:
		cancelAt := now
		if o.CancelledAt != nil {
			cancelAt = *o.CancelledAt
		}
		o.RefundAmount = ledger.OrderRefund(o, cancelAt)
	}
	o.OrderStatus = to
	o.UpdatedAt = now
	return nil
}

// Reconcile settles a Returned rental and closes it as Completed. The
// settlement is recomputed here and must match the caller's.
func (s *Service) Reconcile(ctx context.Context, actor orders.Actor, req lifecycle.ReconcileRequest) (*orders.Order, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.OrderStatus != req.Expected {
		return nil, &orders.StateConflictError{OrderID: o.ID}
	}
	if err := s.checkSettled(ctx, o); err != nil {
		return nil, err
	}
	to, ok := orders.Target(o.OrderType, o.OrderStatus, orders.OpReconcile)
	if !ok {
		return nil, &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: orders.OpReconcile}
	}
	rd, err := s.store.GetReturnDetail(ctx, o.ID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, orders.ErrReturnDetailRequired
	}
	if err != nil {
		return nil, err
	}
	if rd.Reconciled() {
		return nil, &orders.DuplicateReconciliationError{OrderID: o.ID}
	}
	if req.ReturnID != "" && req.ReturnID != rd.ID {
		return nil, &orders.ValidationError{Field: "returnId", Reason: "does not match the order's return detail"}
	}
	settlement := ledger.SettleReturn(o.Deposit, rd.PenaltyApplied)
	if req.Settlement != settlement {
		return nil, &orders.ValidationError{Field: "settlement", Reason: fmt.Sprintf("expected refund %d, retained %d", settlement.Refund, settlement.Retained)}
	}

	now := s.now()
	from := o.OrderStatus
	o.OrderStatus = to
	o.UpdatedAt = now
	change := orders.StatusChange{OrderID: o.ID, From: from, To: to, ActorID: actor.ID, ActorRole: string(actor.Role), At: now}
	if err := s.store.Reconcile(ctx, o, from, rd.ID, now, change); err != nil {
		return nil, err
	}
	s.events.Settled(o, settlement)
	s.events.StatusChanged(o, change)
	if settlement.NeedsFollowUp() {
		s.log.Warn("penalty exceeds deposit", "order_id", o.ID, "excess_owed", int64(settlement.ExcessOwed))
	}
	return o, nil
}

// checkSettled rejects a second return or reconciliation of a Completed
// rental whose deposit was already settled.
func (s *Service) checkSettled(ctx context.Context, o *orders.Order) error {
	if !o.IsRent() || o.OrderStatus != orders.StatusCompleted {
		return nil
	}
	rd, err := s.store.GetReturnDetail(ctx, o.ID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rd.Reconciled() {
		return &orders.DuplicateReconciliationError{OrderID: o.ID}
	}
	return nil
}

// CreateReturnDetail records the one inspection of a returned rental.
func (s *Service) CreateReturnDetail(ctx context.Context, actor orders.Actor, req lifecycle.ReturnRequest) (*orders.ReturnDetail, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if req.PenaltyApplied < 0 {
		return nil, &orders.ValidationError{Field: "penaltyApplied", Reason: "must not be negative"}
	}
	o, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSettled(ctx, o); err != nil {
		return nil, err
	}
	if !o.IsRent() || o.OrderStatus != orders.StatusShipped {
		return nil, &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: orders.OpReturn}
	}
	if _, err := s.store.GetReturnDetail(ctx, o.ID); err == nil {
		return nil, &orders.DuplicateReconciliationError{OrderID: o.ID}
	} else if !errors.Is(err, orders.ErrNotFound) {
		return nil, err
	}
	rd := &orders.ReturnDetail{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		ReturnDate:     s.now(),
		Condition:      req.Condition,
		PenaltyApplied: req.PenaltyApplied,
	}
	if err := s.store.CreateReturnDetail(ctx, rd); err != nil {
		return nil, err
	}
	return rd, nil
}

// CreateExtension stores a proposed extension priced from the stored order.
func (s *Service) CreateExtension(ctx context.Context, actor orders.Actor, ext orders.Extension) (*orders.Extension, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(ctx, ext.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.IsRent() || !o.OrderStatus.ActiveRental() {
		return nil, &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: orders.OpExtend}
	}
	if !o.IsExtend {
		return nil, orders.ErrExtendNotAllowed
	}
	q, err := lifecycle.QuoteExtension(o, ext.DurationValue, ext.DurationUnit)
	if err != nil {
		return nil, err
	}
	q.ID = uuid.NewString()
	q.CreatedAt = s.now()
	if err := s.store.CreateExtension(ctx, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// AcceptExtension commits a proposed extension to the order's end date.
func (s *Service) AcceptExtension(ctx context.Context, actor orders.Actor, extID string) (*orders.Order, *orders.Extension, error) {
	e, o, err := s.proposed(ctx, actor, extID)
	if err != nil {
		return nil, nil, err
	}
	if o.RentalEndDate == nil || !o.RentalEndDate.Equal(e.PrevEndDate) {
		return nil, nil, &orders.StateConflictError{OrderID: o.ID}
	}
	end := e.NewEndDate
	o.RentalEndDate = &end
	o.UpdatedAt = s.now()
	e.Status = orders.ExtensionAccepted
	if err := s.store.DecideExtension(ctx, e, o); err != nil {
		return nil, nil, err
	}
	s.log.Info("extension accepted", "order_id", o.ID, "extend_id", e.ID, "actor_id", actor.ID)
	return o, e, nil
}

func (s *Service) RejectExtension(ctx context.Context, actor orders.Actor, extID string) (*orders.Extension, error) {
	e, _, err := s.proposed(ctx, actor, extID)
	if err != nil {
		return nil, err
	}
	e.Status = orders.ExtensionRejected
	if err := s.store.DecideExtension(ctx, e, nil); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) proposed(ctx context.Context, actor orders.Actor, extID string) (*orders.Extension, *orders.Order, error) {
	if err := actor.Validate(); err != nil {
		return nil, nil, err
	}
	e, err := s.store.GetExtension(ctx, extID)
	if err != nil {
		return nil, nil, err
	}
	if e.Status != orders.ExtensionProposed {
		return nil, nil, &orders.ValidationError{Field: "extension", Reason: "already decided"}
	}
	o, err := s.store.GetOrder(ctx, e.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if !o.OrderStatus.ActiveRental() {
		return nil, nil, &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: orders.OpExtend}
	}
	return e, o, nil
}
