// Package lifecycle drives orders through their states against the order
// service: status transitions, rental extensions and return reconciliation.
package lifecycle

import (
	"context"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// StatusRequest asks the service to apply Op to an order currently in
// Expected. The service rejects with a StateConflictError if the order moved.
type StatusRequest struct {
	OrderID  string        `json:"-"`
	Op       orders.Op     `json:"-"`
	Expected orders.Status `json:"expectedStatus"`
	Reason   string        `json:"reason,omitempty"`
}

type ReconcileRequest struct {
	OrderID    string            `json:"-"`
	Expected   orders.Status     `json:"expectedStatus"`
	ReturnID   string            `json:"returnId"`
	Settlement ledger.Settlement `json:"settlement"`
}

type ReturnRequest struct {
	OrderID        string       `json:"-"`
	Condition      string       `json:"condition"`
	PenaltyApplied orders.Money `json:"penaltyApplied"`
}

// OrderService is the remote order service. Implementations return the
// authoritative order after every mutation and classify failures as
// *orders.NetworkError, *orders.ServiceRejectedError,
// *orders.StateConflictError or *orders.DuplicateReconciliationError.
type OrderService interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, actor orders.Actor, req StatusRequest) (*orders.Order, error)
	Reconcile(ctx context.Context, actor orders.Actor, req ReconcileRequest) (*orders.Order, error)

	// GetReturnDetail returns orders.ErrNotFound when none was recorded.
	GetReturnDetail(ctx context.Context, orderID string) (*orders.ReturnDetail, error)
	CreateReturnDetail(ctx context.Context, actor orders.Actor, req ReturnRequest) (*orders.ReturnDetail, error)

	CreateExtension(ctx context.Context, actor orders.Actor, ext orders.Extension) (*orders.Extension, error)
	AcceptExtension(ctx context.Context, actor orders.Actor, extID string) (*orders.Order, *orders.Extension, error)
	RejectExtension(ctx context.Context, actor orders.Actor, extID string) (*orders.Extension, error)
}
