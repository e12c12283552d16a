package lifecycle

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// RecordReturn stores the inspection of a returned rental item. It is a
// one-time event: a second call fails with DuplicateReconciliationError.
func (m *Machine) RecordReturn(ctx context.Context, actor orders.Actor, o *orders.Order, condition string, penalty orders.Money) (*orders.ReturnDetail, error) {
	if err := m.checkSettled(ctx, o); err != nil {
		return nil, err
	}
	var rd *orders.ReturnDetail
	err := m.guardedRental(actor, o, orders.OpReturn, []orders.Status{orders.StatusShipped}, func() error {
		if strings.TrimSpace(condition) == "" {
			return &orders.ValidationError{Field: "condition", Reason: "required"}
		}
		if penalty < 0 {
			return &orders.ValidationError{Field: "penaltyApplied", Reason: "must not be negative"}
		}
		created, err := m.svc.CreateReturnDetail(ctx, actor, ReturnRequest{
			OrderID:        o.ID,
			Condition:      condition,
			PenaltyApplied: penalty,
		})
		if err != nil {
			return m.failed(o, orders.OpReturn, err)
		}
		rd = created
		m.log.Info("return recorded", "order_id", o.ID, "return_id", rd.ID, "penalty", int64(rd.PenaltyApplied))
		return nil
	})
	return rd, err
}

// Reconcile settles the deposit of a Returned rental against its return
// penalty and closes the order as Completed.
func (m *Machine) Reconcile(ctx context.Context, actor orders.Actor, o *orders.Order) (ledger.Settlement, error) {
	if err := m.checkSettled(ctx, o); err != nil {
		return ledger.Settlement{}, err
	}
	var s ledger.Settlement
	err := m.guarded(actor, o, orders.OpReconcile, func() error {
		rd, err := m.svc.GetReturnDetail(ctx, o.ID)
		if errors.Is(err, orders.ErrNotFound) {
			return orders.ErrReturnDetailRequired
		}
		if err != nil {
			return m.failed(o, orders.OpReconcile, err)
		}
		s, err = m.reconcile(ctx, actor, o, rd)
		return err
	})
	return s, err
}

// checkSettled fails with DuplicateReconciliationError when o is a Completed
// rental whose return detail was already reconciled. Any other state is left
// to the edge check.
func (m *Machine) checkSettled(ctx context.Context, o *orders.Order) error {
	if o == nil || o.ID == "" || !o.IsRent() || o.OrderStatus != orders.StatusCompleted {
		return nil
	}
	rd, err := m.svc.GetReturnDetail(ctx, o.ID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return m.failed(o, orders.OpReconcile, err)
	}
	if rd.Reconciled() {
		return &orders.DuplicateReconciliationError{OrderID: o.ID}
	}
	return nil
}

// reconcile must run inside guarded with o in Returned.
func (m *Machine) reconcile(ctx context.Context, actor orders.Actor, o *orders.Order, rd *orders.ReturnDetail) (ledger.Settlement, error) {
	if rd.Reconciled() {
		return ledger.Settlement{}, &orders.DuplicateReconciliationError{OrderID: o.ID}
	}
	s := ledger.SettleReturn(o.Deposit, rd.PenaltyApplied)

	updated, err := m.svc.Reconcile(ctx, actor, ReconcileRequest{
		OrderID:    o.ID,
		Expected:   o.OrderStatus,
		ReturnID:   rd.ID,
		Settlement: s,
	})
	if err != nil {
		return ledger.Settlement{}, m.failed(o, orders.OpReconcile, err)
	}
	if err := m.apply(o, updated, orders.StatusCompleted); err != nil {
		return ledger.Settlement{}, m.failed(o, orders.OpReconcile, err)
	}

	if s.NeedsFollowUp() {
		m.log.Warn("penalty exceeds deposit, manual collection needed",
			"order_id", o.ID, "deposit", int64(s.Deposit), "penalty", int64(s.Penalty), "excess_owed", int64(s.ExcessOwed))
	}
	m.log.Info("order reconciled", "order_id", o.ID, "refund", int64(s.Refund), "retained", int64(s.Retained))
	return s, nil
}

// guardedRental is guarded for rental operations that are not status edges
// (returns, extensions). They may only run while o is in one of allowed.
func (m *Machine) guardedRental(actor orders.Actor, o *orders.Order, op orders.Op, allowed []orders.Status, fn func() error) error {
	if err := checkCaller(actor, o); err != nil {
		return err
	}
	if !o.IsRent() || !slices.Contains(allowed, o.OrderStatus) {
		return &orders.InvalidTransitionError{OrderID: o.ID, From: o.OrderStatus, Op: op}
	}
	return m.exclusive(o.ID, fn)
}
