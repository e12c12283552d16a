package orderservice

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// MemStore is an in-memory Store. Every read and write is a copy, so callers
// never share state with the store.
type MemStore struct {
	mu         sync.Mutex
	orders     map[string]*orders.Order
	external   map[string]string
	products   map[string]orders.Product
	returns    map[string]*orders.ReturnDetail // by order id
	extensions map[string]*orders.Extension
	history    []orders.StatusChange
}

func NewMemStore(products ...orders.Product) *MemStore {
	m := &MemStore{
		orders:     map[string]*orders.Order{},
		external:   map[string]string{},
		products:   map[string]orders.Product{},
		returns:    map[string]*orders.ReturnDetail{},
		extensions: map[string]*orders.Extension{},
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

var _ Store = (*MemStore)(nil)

// Put stores o as-is, bypassing the lifecycle. For seeding.
func (m *MemStore) Put(o *orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

// History returns the recorded status changes of one order, oldest first.
func (m *MemStore) History(orderID string) []orders.StatusChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.StatusChange
	for _, c := range m.history {
		if c.OrderID == orderID {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemStore) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemStore) FindByExternalID(_ context.Context, externalID string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.external[externalID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemStore) CreateOrder(_ context.Context, externalID string, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if externalID != "" {
		if _, ok := m.external[externalID]; ok {
			return &orders.ValidationError{Field: "externalId", Reason: "already used"}
		}
		m.external[externalID] = o.ID
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *MemStore) UpdateOrder(_ context.Context, o *orders.Order, expected orders.Status, change orders.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.OrderStatus != expected {
		return &orders.StateConflictError{OrderID: o.ID}
	}
	if err := orders.CheckChange(o.ID, expected, o.OrderStatus); err != nil {
		return err
	}
	m.orders[o.ID] = cloneOrder(o)
	m.history = append(m.history, change)
	return nil
}

func (m *MemStore) GetProducts(_ context.Context, ids []string) (map[string]orders.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *MemStore) GetReturnDetail(_ context.Context, orderID string) (*orders.ReturnDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rd, ok := m.returns[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	c := *rd
	return &c, nil
}

func (m *MemStore) CreateReturnDetail(_ context.Context, rd *orders.ReturnDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.returns[rd.OrderID]; ok {
		return &orders.DuplicateReconciliationError{OrderID: rd.OrderID}
	}
	c := *rd
	m.returns[rd.OrderID] = &c
	return nil
}

func (m *MemStore) Reconcile(_ context.Context, o *orders.Order, expected orders.Status, returnID string, at time.Time, change orders.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	rd, ok := m.returns[o.ID]
	if !ok || rd.ID != returnID {
		return orders.ErrReturnDetailRequired
	}
	if rd.Reconciled() {
		return &orders.DuplicateReconciliationError{OrderID: o.ID}
	}
	if cur.OrderStatus != expected {
		return &orders.StateConflictError{OrderID: o.ID}
	}
	at = at.UTC()
	rd.ReconciledAt = &at
	m.orders[o.ID] = cloneOrder(o)
	m.history = append(m.history, change)
	return nil
}

func (m *MemStore) GetExtension(_ context.Context, id string) (*orders.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.extensions[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *MemStore) CreateExtension(_ context.Context, e *orders.Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.extensions[e.ID] = &c
	return nil
}

func (m *MemStore) DecideExtension(_ context.Context, e *orders.Extension, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.extensions[e.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Status != orders.ExtensionProposed {
		return &orders.StateConflictError{OrderID: e.OrderID}
	}
	if o != nil {
		stored := m.orders[o.ID]
		if stored == nil || stored.RentalEndDate == nil || !stored.RentalEndDate.Equal(e.PrevEndDate) {
			return &orders.StateConflictError{OrderID: o.ID}
		}
		m.orders[o.ID] = cloneOrder(o)
	}
	c := *e
	m.extensions[e.ID] = &c
	return nil
}

func cloneOrder(o *orders.Order) *orders.Order {
	c := *o
	c.Details = slices.Clone(o.Details)
	c.Rates = maps.Clone(o.Rates)
	c.DurationOptions = maps.Clone(o.DurationOptions)
	c.VoucherID = clonePtr(o.VoucherID)
	c.RentalStartDate = clonePtr(o.RentalStartDate)
	c.RentalEndDate = clonePtr(o.RentalEndDate)
	c.PaidAt = clonePtr(o.PaidAt)
	c.CancelledAt = clonePtr(o.CancelledAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
