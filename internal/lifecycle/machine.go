package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// Machine validates transitions against the edge table, asks the order
// service to apply them and only then updates the caller's order with the
// state the service returned. It never retries.
//
// At most one operation per order id runs at a time; a second concurrent
// call fails with orders.ErrTransitionInFlight. After a StateConflictError
// the order is stale until Refresh reloads it.
type Machine struct {
	svc OrderService
	log *logger.Logger
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	stale    map[string]struct{}
}

func NewMachine(svc OrderService, log *logger.Logger) *Machine {
	if log == nil {
		log = logger.Nop()
	}
	return &Machine{
		svc:      svc,
		log:      log.Named("lifecycle"),
		now:      time.Now,
		inflight: map[string]struct{}{},
		stale:    map[string]struct{}{},
	}
}

func (m *Machine) Approve(ctx context.Context, actor orders.Actor, o *orders.Order) error {
	return m.guarded(actor, o, orders.OpApprove, func() error {
		return m.transition(ctx, actor, o, orders.OpApprove, "")
	})
}

// Ship requires the delivery method to be chosen first.
func (m *Machine) Ship(ctx context.Context, actor orders.Actor, o *orders.Order) error {
	return m.guarded(actor, o, orders.OpShip, func() error {
		if strings.TrimSpace(o.DeliveryMethod) == "" {
			return orders.ErrDeliveryMethodRequired
		}
		return m.transition(ctx, actor, o, orders.OpShip, "")
	})
}

// ConfirmPayment records a captured payment (the service's "placed" update).
// Status is unchanged; IsPayment and PaidAt are set.
func (m *Machine) ConfirmPayment(ctx context.Context, actor orders.Actor, o *orders.Order) error {
	return m.guarded(actor, o, orders.OpPlaced, func() error {
		if o.IsPayment {
			return orders.ErrAlreadyPaid
		}
		return m.transition(ctx, actor, o, orders.OpPlaced, "")
	})
}

// Cancel cancels a non-terminal order with a message. A paid order goes to
// PendingRefund instead of Cancelled.
func (m *Machine) Cancel(ctx context.Context, actor orders.Actor, o *orders.Order, reason string) error {
	op := orders.OpCancel
	if o != nil && o.IsPayment {
		op = orders.OpPendingRefund
	}
	return m.guarded(actor, o, op, func() error {
		if strings.TrimSpace(reason) == "" {
			return &orders.ValidationError{Field: "reason", Reason: "cancellation message is required"}
		}
		return m.transition(ctx, actor, o, op, reason)
	})
}

// AcceptCancel confirms refund eligibility of a PendingRefund order.
func (m *Machine) AcceptCancel(ctx context.Context, actor orders.Actor, o *orders.Order) error {
	return m.guarded(actor, o, orders.OpAcceptCancel, func() error {
		return m.transition(ctx, actor, o, orders.OpAcceptCancel, "")
	})
}

// Refund finalizes a CancelAccepted order to Cancelled. It returns the
// reservation money handed back, as booked by the service.
func (m *Machine) Refund(ctx context.Context, actor orders.Actor, o *orders.Order) (orders.Money, error) {
	var refunded orders.Money
	err := m.guarded(actor, o, orders.OpRefund, func() error {
		cancelAt := m.now()
		if o.CancelledAt != nil {
			cancelAt = *o.CancelledAt
		}
		expect := ledger.OrderRefund(o, cancelAt)
		if err := m.transition(ctx, actor, o, orders.OpRefund, ""); err != nil {
			return err
		}
		refunded = o.RefundAmount
		if refunded != expect {
			m.log.Warn("refund differs from local calculation", "order_id", o.ID, "service", refunded, "local", expect)
		}
		return nil
	})
	return refunded, err
}

// Complete finishes a shipped order. Buy orders go straight to Completed.
// Rent orders need a recorded return: the order moves to Returned and is then
// reconciled into Completed. If reconciliation fails the order stays Returned
// and Reconcile may be called again.
func (m *Machine) Complete(ctx context.Context, actor orders.Actor, o *orders.Order) (*ledger.Settlement, error) {
	var settlement *ledger.Settlement
	err := m.guarded(actor, o, orders.OpComplete, func() error {
		if !o.IsRent() {
			return m.transition(ctx, actor, o, orders.OpComplete, "")
		}

		rd, err := m.svc.GetReturnDetail(ctx, o.ID)
		if errors.Is(err, orders.ErrNotFound) {
			return orders.ErrReturnDetailRequired
		}
		if err != nil {
			return m.failed(o, orders.OpComplete, err)
		}
		if err := m.transition(ctx, actor, o, orders.OpComplete, ""); err != nil {
			return err
		}
		s, err := m.reconcile(ctx, actor, o, rd)
		if err != nil {
			return err
		}
		settlement = &s
		return nil
	})
	return settlement, err
}

// Refresh reloads the order from the service and clears the stale mark.
func (m *Machine) Refresh(ctx context.Context, o *orders.Order) error {
	if o == nil || o.ID == "" {
		return &orders.ValidationError{Field: "order", Reason: "missing id"}
	}
	fresh, err := m.svc.GetOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("refresh order %s: %w", o.ID, err)
	}
	*o = *fresh
	m.mu.Lock()
	delete(m.stale, o.ID)
	m.mu.Unlock()
	return nil
}

// guarded checks the edge, actor and per-order exclusivity before running fn.
func (m *Machine) guarded(actor orders.Actor, o *orders.Order, op orders.Op, fn func() error) error {
	if err := checkCaller(actor, o); err != nil {
		return err
	}
	if _, ok := orders.Target(o.OrderType, o.OrderStatus, op); !ok {
		return &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: op}
	}
	return m.exclusive(o.ID, fn)
}

func checkCaller(actor orders.Actor, o *orders.Order) error {
	if o == nil || o.ID == "" {
		return &orders.ValidationError{Field: "order", Reason: "missing id"}
	}
	return actor.Validate()
}

// exclusive runs fn holding the in-flight mark for id.
func (m *Machine) exclusive(id string, fn func() error) error {
	m.mu.Lock()
	if _, busy := m.inflight[id]; busy {
		m.mu.Unlock()
		return orders.ErrTransitionInFlight
	}
	if _, stale := m.stale[id]; stale {
		m.mu.Unlock()
		return orders.ErrStaleOrder
	}
	m.inflight[id] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()
	return fn()
}

// transition performs one edge. Must run inside guarded.
func (m *Machine) transition(ctx context.Context, actor orders.Actor, o *orders.Order, op orders.Op, reason string) error {
	from := o.OrderStatus
	to, ok := orders.Target(o.OrderType, from, op)
	if !ok {
		return &orders.InvalidTransitionError{OrderID: o.ID, From: from, Op: op}
	}

	updated, err := m.svc.UpdateStatus(ctx, actor, StatusRequest{
		OrderID:  o.ID,
		Op:       op,
		Expected: from,
		Reason:   reason,
	})
	if err != nil {
		return m.failed(o, op, err)
	}
	if err := m.apply(o, updated, to); err != nil {
		return m.failed(o, op, err)
	}

	m.log.Info("order transitioned",
		"order_id", o.ID, "op", string(op), "from", from.String(), "to", to.String(),
		"actor_id", actor.ID, "actor_role", string(actor.Role))
	return nil
}

// apply replaces o with the service's order if it landed where expected.
func (m *Machine) apply(o, updated *orders.Order, want orders.Status) error {
	if updated == nil || updated.ID != o.ID || updated.OrderStatus != want {
		return &orders.StateConflictError{OrderID: o.ID}
	}
	*o = *updated
	return nil
}

// failed logs err, marks the order stale on a conflict and wraps err. Typed
// errors rebuilt without an order id (extension calls) get o's.
func (m *Machine) failed(o *orders.Order, op orders.Op, err error) error {
	var conflict *orders.StateConflictError
	if errors.As(err, &conflict) {
		if conflict.OrderID == "" {
			conflict.OrderID = o.ID
		}
		m.mu.Lock()
		m.stale[o.ID] = struct{}{}
		m.mu.Unlock()
	}
	var dup *orders.DuplicateReconciliationError
	if errors.As(err, &dup) && dup.OrderID == "" {
		dup.OrderID = o.ID
	}
	m.log.Warn("order operation failed", "order_id", o.ID, "op", string(op), "status", o.OrderStatus.String(), err)
	return fmt.Errorf("%s order %s: %w", op, o.ID, err)
}
