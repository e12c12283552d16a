package lifecycle

import (
	"context"

	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/pricing"
	"github.com/ariefcatur/camrent-orders/internal/rentaldate"
)

var activeRental = []orders.Status{orders.StatusApproved, orders.StatusShipped}

// QuoteExtension prices an extension with the rates captured when the order
// was created and counts the new end date from the current end date.
func QuoteExtension(o *orders.Order, value int, unit orders.DurationUnit) (orders.Extension, error) {
	if o.RentalEndDate == nil {
		return orders.Extension{}, &orders.ValidationError{Field: "rentalEndDate", Reason: "order has no end date"}
	}
	cost, err := pricing.Quote(unit, value, o.Rates, o.DurationOptions)
	if err != nil {
		return orders.Extension{}, err
	}
	newEnd := rentaldate.EndDate(o.RentalEndDate, value, unit)
	if newEnd == nil {
		return orders.Extension{}, &orders.ValidationError{Field: "durationUnit", Reason: "unknown unit"}
	}
	return orders.Extension{
		OrderID:        o.ID,
		DurationUnit:   unit,
		DurationValue:  value,
		PrevEndDate:    *o.RentalEndDate,
		NewEndDate:     *newEnd,
		ReturnBy:       *rentaldate.ExtensionReturnDate(newEnd),
		AdditionalCost: cost,
		Status:         orders.ExtensionProposed,
	}, nil
}

// ProposeExtension creates a proposed extension. The order's end date is
// not touched until the counterparty commits it.
func (m *Machine) ProposeExtension(ctx context.Context, actor orders.Actor, o *orders.Order, value int, unit orders.DurationUnit) (*orders.Extension, error) {
	var ext *orders.Extension
	err := m.guardedRental(actor, o, orders.OpExtend, activeRental, func() error {
		if !o.IsExtend {
			return orders.ErrExtendNotAllowed
		}
		q, err := QuoteExtension(o, value, unit)
		if err != nil {
			return err
		}
		created, err := m.svc.CreateExtension(ctx, actor, q)
		if err != nil {
			return m.failed(o, orders.OpExtend, err)
		}
		ext = created
		m.log.Info("extension proposed",
			"order_id", o.ID, "extend_id", ext.ID, "new_end", ext.NewEndDate, "cost", int64(ext.AdditionalCost))
		return nil
	})
	return ext, err
}

// CommitExtension accepts a proposed extension. On success o carries the
// new end date returned by the service and ext is marked accepted.
func (m *Machine) CommitExtension(ctx context.Context, actor orders.Actor, o *orders.Order, ext *orders.Extension) error {
	return m.guardedRental(actor, o, orders.OpExtend, activeRental, func() error {
		if err := checkProposed(o, ext); err != nil {
			return err
		}
		updated, accepted, err := m.svc.AcceptExtension(ctx, actor, ext.ID)
		if err != nil {
			return m.failed(o, orders.OpExtend, err)
		}
		if updated == nil || updated.RentalEndDate == nil || !updated.RentalEndDate.Equal(ext.NewEndDate) {
			return m.failed(o, orders.OpExtend, &orders.StateConflictError{OrderID: o.ID})
		}
		if err := m.apply(o, updated, o.OrderStatus); err != nil {
			return m.failed(o, orders.OpExtend, err)
		}
		*ext = *accepted
		m.log.Info("extension committed", "order_id", o.ID, "extend_id", ext.ID, "new_end", ext.NewEndDate)
		return nil
	})
}

// RejectExtension declines a proposed extension; the order is unchanged.
func (m *Machine) RejectExtension(ctx context.Context, actor orders.Actor, o *orders.Order, ext *orders.Extension) error {
	return m.guardedRental(actor, o, orders.OpExtend, activeRental, func() error {
		if err := checkProposed(o, ext); err != nil {
			return err
		}
		rejected, err := m.svc.RejectExtension(ctx, actor, ext.ID)
		if err != nil {
			return m.failed(o, orders.OpExtend, err)
		}
		*ext = *rejected
		return nil
	})
}

func checkProposed(o *orders.Order, ext *orders.Extension) error {
	if ext == nil || ext.ID == "" {
		return &orders.ValidationError{Field: "extension", Reason: "missing id"}
	}
	if ext.OrderID != o.ID {
		return &orders.ValidationError{Field: "extension", Reason: "belongs to another order"}
	}
	if ext.Status != orders.ExtensionProposed {
		return &orders.ValidationError{Field: "extension", Reason: "already decided"}
	}
	return nil
}
