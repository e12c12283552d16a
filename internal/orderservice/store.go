package orderservice

import (
	"context"
	"time"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// Store persists orders and their child records. UpdateOrder, Reconcile and
// DecideExtension are compare-and-set on the stored status (or end date) and
// fail with *orders.StateConflictError when it moved.
type Store interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
	CreateOrder(ctx context.Context, externalID string, o *orders.Order) error
	UpdateOrder(ctx context.Context, o *orders.Order, expected orders.Status, change orders.StatusChange) error

	GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error)

	GetReturnDetail(ctx context.Context, orderID string) (*orders.ReturnDetail, error)
	CreateReturnDetail(ctx context.Context, rd *orders.ReturnDetail) error
	Reconcile(ctx context.Context, o *orders.Order, expected orders.Status, returnID string, at time.Time, change orders.StatusChange) error

	GetExtension(ctx context.Context, id string) (*orders.Extension, error)
	CreateExtension(ctx context.Context, e *orders.Extension) error
	// DecideExtension stores e's new status; when o is non-nil it also moves
	// o's end date, provided the stored end date still equals e.PrevEndDate.
	DecideExtension(ctx context.Context, e *orders.Extension, o *orders.Order) error
}

var _ Store = (*orders.Repo)(nil)
