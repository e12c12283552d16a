package lifecycle_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/lifecycle"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/orderservice"
)

var (
	t0       = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	customer = orders.Actor{ID: "acc-1", Role: orders.RoleCustomer}
	staff    = orders.Actor{ID: "staff-1", Role: orders.RoleStaff}
	supplier = orders.Actor{ID: "sup-1", Role: orders.RoleSupplier}
)

// faulty counts every call reaching the service and can fail or block one.
type faulty struct {
	lifecycle.OrderService

	mu      sync.Mutex
	calls   int
	fail    map[string]error
	block   chan struct{}
	entered chan struct{}
}

func (f *faulty) hit(method string) error {
	f.mu.Lock()
	f.calls++
	err := f.fail[method]
	delete(f.fail, method)
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if block != nil && method == "UpdateStatus" {
		entered <- struct{}{}
		<-block
	}
	return err
}

func (f *faulty) failNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	f.fail[method] = err
}

func (f *faulty) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *faulty) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	if err := f.hit("GetOrder"); err != nil {
		return nil, err
	}
	return f.OrderService.GetOrder(ctx, id)
}

func (f *faulty) UpdateStatus(ctx context.Context, a orders.Actor, req lifecycle.StatusRequest) (*orders.Order, error) {
	if err := f.hit("UpdateStatus"); err != nil {
		return nil, err
	}
	return f.OrderService.UpdateStatus(ctx, a, req)
}

func (f *faulty) Reconcile(ctx context.Context, a orders.Actor, req lifecycle.ReconcileRequest) (*orders.Order, error) {
	if err := f.hit("Reconcile"); err != nil {
		return nil, err
	}
	return f.OrderService.Reconcile(ctx, a, req)
}

func (f *faulty) GetReturnDetail(ctx context.Context, id string) (*orders.ReturnDetail, error) {
	if err := f.hit("GetReturnDetail"); err != nil {
		return nil, err
	}
	return f.OrderService.GetReturnDetail(ctx, id)
}

func (f *faulty) CreateReturnDetail(ctx context.Context, a orders.Actor, req lifecycle.ReturnRequest) (*orders.ReturnDetail, error) {
	if err := f.hit("CreateReturnDetail"); err != nil {
		return nil, err
	}
	return f.OrderService.CreateReturnDetail(ctx, a, req)
}

func (f *faulty) CreateExtension(ctx context.Context, a orders.Actor, e orders.Extension) (*orders.Extension, error) {
	if err := f.hit("CreateExtension"); err != nil {
		return nil, err
	}
	return f.OrderService.CreateExtension(ctx, a, e)
}

func (f *faulty) AcceptExtension(ctx context.Context, a orders.Actor, id string) (*orders.Order, *orders.Extension, error) {
	if err := f.hit("AcceptExtension"); err != nil {
		return nil, nil, err
	}
	return f.OrderService.AcceptExtension(ctx, a, id)
}

func (f *faulty) RejectExtension(ctx context.Context, a orders.Actor, id string) (*orders.Extension, error) {
	if err := f.hit("RejectExtension"); err != nil {
		return nil, err
	}
	return f.OrderService.RejectExtension(ctx, a, id)
}

type env struct {
	store *orderservice.MemStore
	svc   *orderservice.Service
	wire  *faulty
	m     *lifecycle.Machine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := orderservice.NewMemStore(orders.Product{
		ID: "cam", SupplierID: "sup-1", Name: "Mirrorless body", Price: 8_000_000, Deposit: 1_500_000,
		Rates:           orders.Rates{orders.UnitDay: 150_000, orders.UnitHour: 20_000},
		DurationOptions: orders.DurationOptions{orders.UnitDay: {Min: 1, Max: 7}, orders.UnitHour: {Min: 3, Max: 12}},
	})
	svc := orderservice.New(store, orderservice.Options{ReservationRate: decimal.RequireFromString("0.3")})
	wire := &faulty{OrderService: svc}
	return &env{store: store, svc: svc, wire: wire, m: lifecycle.NewMachine(wire, nil)}
}

func (e *env) rent(t *testing.T, extend bool) *orders.Order {
	t.Helper()
	c, err := e.svc.CreateRent(context.Background(), customer, orderservice.RentRequest{
		BuyRequest:      orderservice.BuyRequest{DeliveryMethod: "pickup", Items: []orderservice.LineItem{{ProductID: "cam", Quantity: 1}}},
		RentalStartDate: t0,
		DurationUnit:    orders.UnitDay,
		DurationValue:   3,
		IsExtend:        extend,
	})
	if err != nil {
		t.Fatalf("CreateRent: %v", err)
	}
	return c.Order
}

func (e *env) buy(t *testing.T) *orders.Order {
	t.Helper()
	c, err := e.svc.CreateBuy(context.Background(), customer, orderservice.BuyRequest{
		DeliveryMethod: "courier",
		Items:          []orderservice.LineItem{{ProductID: "cam", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateBuy: %v", err)
	}
	return c.Order
}

// shipped drives o to Shipped through the machine.
func (e *env) shipped(t *testing.T, o *orders.Order) {
	t.Helper()
	ctx := context.Background()
	if err := e.m.Approve(ctx, supplier, o); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := e.m.Ship(ctx, supplier, o); err != nil {
		t.Fatalf("Ship: %v", err)
	}
}

func cloneOrder(o *orders.Order) orders.Order {
	c := *o
	c.Details = append([]orders.OrderDetail(nil), o.Details...)
	return c
}

func TestIllegalEdgesNeverReachTheService(t *testing.T) {
	ops := map[orders.Op]func(*lifecycle.Machine, *orders.Order) error{
		orders.OpApprove: func(m *lifecycle.Machine, o *orders.Order) error { return m.Approve(context.Background(), staff, o) },
		orders.OpShip:    func(m *lifecycle.Machine, o *orders.Order) error { return m.Ship(context.Background(), staff, o) },
		orders.OpComplete: func(m *lifecycle.Machine, o *orders.Order) error {
			_, err := m.Complete(context.Background(), staff, o)
			return err
		},
		orders.OpAcceptCancel: func(m *lifecycle.Machine, o *orders.Order) error { return m.AcceptCancel(context.Background(), staff, o) },
		orders.OpRefund: func(m *lifecycle.Machine, o *orders.Order) error {
			_, err := m.Refund(context.Background(), staff, o)
			return err
		},
		orders.OpReconcile: func(m *lifecycle.Machine, o *orders.Order) error {
			_, err := m.Reconcile(context.Background(), staff, o)
			return err
		},
	}
	statuses := []orders.Status{
		orders.StatusPending, orders.StatusApproved, orders.StatusShipped, orders.StatusCompleted,
		orders.StatusCancelled, orders.StatusCancelAccepted, orders.StatusPendingRefund, orders.StatusReturned,
	}

	for _, typ := range []orders.OrderType{orders.OrderTypeBuy, orders.OrderTypeRent} {
		for _, from := range statuses {
			for op, run := range ops {
				if _, ok := orders.Target(typ, from, op); ok {
					continue
				}
				e := newEnv(t)
				o := &orders.Order{ID: "o-1", OrderType: typ, OrderStatus: from, DeliveryMethod: "pickup"}
				e.store.Put(o)
				before := cloneOrder(o)

				err := run(e.m, o)
				var it *orders.InvalidTransitionError
				if !errors.As(err, &it) {
					t.Errorf("%v %s from %s: err = %v, want InvalidTransitionError", typ, op, from, err)
				}
				if n := e.wire.count(); n != 0 {
					t.Errorf("%v %s from %s: %d service calls", typ, op, from, n)
				}
				if !reflect.DeepEqual(before, cloneOrder(o)) {
					t.Errorf("%v %s from %s: order mutated", typ, op, from)
				}
			}
		}
	}

	for _, from := range []orders.Status{orders.StatusCompleted, orders.StatusCancelled, orders.StatusCancelAccepted, orders.StatusPendingRefund, orders.StatusReturned} {
		e := newEnv(t)
		o := &orders.Order{ID: "o-1", OrderType: orders.OrderTypeRent, OrderStatus: from}
		var it *orders.InvalidTransitionError
		if err := e.m.Cancel(context.Background(), customer, o, "no longer needed"); !errors.As(err, &it) {
			t.Errorf("cancel from %s: err = %v", from, err)
		}
	}
}

func TestNetworkErrorLeavesOrderUntouched(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	before := cloneOrder(o)

	e.wire.failNext("UpdateStatus", &orders.NetworkError{Op: "update status", Err: errors.New("connection reset")})
	err := e.m.Approve(context.Background(), supplier, o)
	var ne *orders.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if !reflect.DeepEqual(before, cloneOrder(o)) {
		t.Errorf("order changed after a failed call")
	}

	if err := e.m.Approve(context.Background(), supplier, o); err != nil {
		t.Fatalf("retry by caller: %v", err)
	}
	if o.OrderStatus != orders.StatusApproved {
		t.Errorf("status = %s, want APPROVED", o.OrderStatus)
	}
}

func TestConflictMarksOrderStaleUntilRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.rent(t, false)
	mine := *o

	if err := e.m.Approve(ctx, supplier, o); err != nil {
		t.Fatal(err)
	}

	err := e.m.Cancel(ctx, customer, &mine, "found a cheaper one")
	var sc *orders.StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("err = %v, want StateConflictError", err)
	}
	if mine.OrderStatus != orders.StatusPending {
		t.Errorf("local status = %s, want unchanged PENDING", mine.OrderStatus)
	}
	if err := e.m.Approve(ctx, supplier, &mine); !errors.Is(err, orders.ErrStaleOrder) {
		t.Errorf("after conflict: err = %v, want ErrStaleOrder", err)
	}

	if err := e.m.Refresh(ctx, &mine); err != nil {
		t.Fatal(err)
	}
	if mine.OrderStatus != orders.StatusApproved {
		t.Errorf("refreshed status = %s", mine.OrderStatus)
	}
	if err := e.m.Cancel(ctx, customer, &mine, "found a cheaper one"); err != nil {
		t.Errorf("cancel after refresh: %v", err)
	}
}

func TestOneTransitionInFlightPerOrder(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	other := *o

	e.wire.block = make(chan struct{})
	e.wire.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- e.m.Approve(context.Background(), supplier, o) }()
	<-e.wire.entered

	if err := e.m.Approve(context.Background(), supplier, &other); !errors.Is(err, orders.ErrTransitionInFlight) {
		t.Errorf("concurrent approve: err = %v, want ErrTransitionInFlight", err)
	}
	close(e.wire.block)
	if err := <-done; err != nil {
		t.Fatalf("first approve: %v", err)
	}
}

func TestShipRequiresDeliveryMethod(t *testing.T) {
	e := newEnv(t)
	o := &orders.Order{ID: "o-1", OrderType: orders.OrderTypeBuy, OrderStatus: orders.StatusApproved}
	e.store.Put(o)
	if err := e.m.Ship(context.Background(), supplier, o); !errors.Is(err, orders.ErrDeliveryMethodRequired) {
		t.Errorf("err = %v", err)
	}
	if e.wire.count() != 0 {
		t.Errorf("service was called")
	}
}

func TestActorIsRequired(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	var ve *orders.ValidationError
	if err := e.m.Approve(context.Background(), orders.Actor{}, o); !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if h := e.store.History(o.ID); len(h) != 0 {
		t.Errorf("history = %+v", h)
	}
	if err := e.m.Approve(context.Background(), supplier, o); err != nil {
		t.Fatal(err)
	}
	if h := e.store.History(o.ID); len(h) != 1 || h[0].ActorID != supplier.ID || h[0].ActorRole != "supplier" {
		t.Errorf("history = %+v", h)
	}
}

func TestBuyCompletes(t *testing.T) {
	e := newEnv(t)
	o := e.buy(t)
	e.shipped(t, o)
	s, err := e.m.Complete(context.Background(), staff, o)
	if err != nil {
		t.Fatal(err)
	}
	if s != nil || o.OrderStatus != orders.StatusCompleted {
		t.Errorf("settlement = %v, status = %s", s, o.OrderStatus)
	}
}

func TestRentCompleteWithoutReturnDetail(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	e.shipped(t, o)

	_, err := e.m.Complete(context.Background(), staff, o)
	if !errors.Is(err, orders.ErrReturnDetailRequired) {
		t.Fatalf("err = %v, want ErrReturnDetailRequired", err)
	}
	if o.OrderStatus != orders.StatusShipped {
		t.Errorf("status = %s, want SHIPPED", o.OrderStatus)
	}
}

func TestRentCompleteReconciles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.rent(t, false)
	e.shipped(t, o)

	if _, err := e.m.RecordReturn(ctx, staff, o, "lens mount scratched", 400_000); err != nil {
		t.Fatalf("RecordReturn: %v", err)
	}
	var dup *orders.DuplicateReconciliationError
	if _, err := e.m.RecordReturn(ctx, staff, o, "again", 0); !errors.As(err, &dup) {
		t.Errorf("second return: err = %v, want DuplicateReconciliationError", err)
	}

	s, err := e.m.Complete(ctx, staff, o)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := ledger.Settlement{Deposit: 1_500_000, Penalty: 400_000, Refund: 1_100_000, Retained: 400_000}
	if s == nil || *s != want {
		t.Errorf("settlement = %+v, want %+v", s, want)
	}
	if o.OrderStatus != orders.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", o.OrderStatus)
	}

	if _, err := e.m.Reconcile(ctx, staff, o); !errors.As(err, &dup) || dup.OrderID != o.ID {
		t.Errorf("reconcile a completed order: err = %v, want DuplicateReconciliationError", err)
	}
	if _, err := e.m.RecordReturn(ctx, staff, o, "again", 0); !errors.As(err, &dup) {
		t.Errorf("return on a completed order: err = %v, want DuplicateReconciliationError", err)
	}
	if o.OrderStatus != orders.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", o.OrderStatus)
	}
}

func TestCompletedBuyReconcileIsInvalid(t *testing.T) {
	e := newEnv(t)
	o := e.buy(t)
	e.shipped(t, o)
	if _, err := e.m.Complete(context.Background(), staff, o); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	var it *orders.InvalidTransitionError
	if _, err := e.m.Reconcile(context.Background(), staff, o); !errors.As(err, &it) {
		t.Errorf("reconcile a completed purchase: err = %v, want InvalidTransitionError", err)
	}
}

func TestConflictOnExtensionCarriesOrderID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.rent(t, true)
	e.shipped(t, o)
	ext, err := e.m.ProposeExtension(ctx, customer, o, 1, orders.UnitDay)
	if err != nil {
		t.Fatalf("ProposeExtension: %v", err)
	}

	e.wire.failNext("AcceptExtension", &orders.StateConflictError{})
	err = e.m.CommitExtension(ctx, supplier, o, ext)
	var conflict *orders.StateConflictError
	if !errors.As(err, &conflict) || conflict.OrderID != o.ID {
		t.Fatalf("err = %v, want StateConflictError for %s", err, o.ID)
	}
	if err := e.m.Cancel(ctx, customer, o, "changed plans"); !errors.Is(err, orders.ErrStaleOrder) {
		t.Errorf("after conflict: err = %v, want ErrStaleOrder", err)
	}
}

func TestFailedReconcileStaysReturned(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.rent(t, false)
	e.shipped(t, o)
	if _, err := e.m.RecordReturn(ctx, staff, o, "ok", 0); err != nil {
		t.Fatal(err)
	}

	e.wire.failNext("Reconcile", &orders.NetworkError{Op: "reconcile", Err: errors.New("timeout")})
	if _, err := e.m.Complete(ctx, staff, o); err == nil {
		t.Fatal("Complete succeeded despite reconcile failure")
	}
	if o.OrderStatus != orders.StatusReturned {
		t.Fatalf("status = %s, want RETURNED", o.OrderStatus)
	}

	s, err := e.m.Reconcile(ctx, staff, o)
	if err != nil {
		t.Fatalf("Reconcile retry: %v", err)
	}
	if s.Refund != o.Deposit || o.OrderStatus != orders.StatusCompleted {
		t.Errorf("settlement = %+v, status = %s", s, o.OrderStatus)
	}
}

func TestUnpaidCancel(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	ctx := context.Background()

	var ve *orders.ValidationError
	if err := e.m.Cancel(ctx, customer, o, ""); !errors.As(err, &ve) {
		t.Errorf("empty reason: err = %v", err)
	}
	if err := e.m.Cancel(ctx, customer, o, "dates changed"); err != nil {
		t.Fatal(err)
	}
	if o.OrderStatus != orders.StatusCancelled || o.CancelMessage != "dates changed" {
		t.Errorf("order = %s / %q", o.OrderStatus, o.CancelMessage)
	}
}

func TestPaidCancelGoesThroughRefund(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	ctx := context.Background()

	if err := e.m.ConfirmPayment(ctx, customer, o); err != nil {
		t.Fatal(err)
	}
	if !o.IsPayment || o.OrderStatus != orders.StatusPending {
		t.Fatalf("after payment: paid=%v status=%s", o.IsPayment, o.OrderStatus)
	}
	if err := e.m.ConfirmPayment(ctx, customer, o); !errors.Is(err, orders.ErrAlreadyPaid) {
		t.Errorf("second payment: err = %v", err)
	}

	if err := e.m.Cancel(ctx, customer, o, "sick"); err != nil {
		t.Fatal(err)
	}
	if o.OrderStatus != orders.StatusPendingRefund {
		t.Fatalf("status = %s, want PENDING_REFUND", o.OrderStatus)
	}
	if err := e.m.AcceptCancel(ctx, staff, o); err != nil {
		t.Fatal(err)
	}
	refund, err := e.m.Refund(ctx, staff, o)
	if err != nil {
		t.Fatal(err)
	}
	if o.OrderStatus != orders.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", o.OrderStatus)
	}
	if refund != o.ReservationMoney || refund == 0 {
		t.Errorf("refund = %d, reservation = %d", refund, o.ReservationMoney)
	}
}

func TestExtensionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.rent(t, true)
	if err := e.m.Approve(ctx, supplier, o); err != nil {
		t.Fatal(err)
	}
	end := *o.RentalEndDate

	ext, err := e.m.ProposeExtension(ctx, customer, o, 2, orders.UnitDay)
	if err != nil {
		t.Fatalf("ProposeExtension: %v", err)
	}
	if ext.AdditionalCost != 300_000 {
		t.Errorf("cost = %d, want 300000", ext.AdditionalCost)
	}
	if !o.RentalEndDate.Equal(end) {
		t.Errorf("proposal moved the end date")
	}
	wantEnd := end.AddDate(0, 0, 2)
	if !ext.NewEndDate.Equal(wantEnd) || !ext.ReturnBy.Equal(wantEnd.Add(time.Hour)) {
		t.Errorf("new end = %v, return by = %v", ext.NewEndDate, ext.ReturnBy)
	}

	if err := e.m.CommitExtension(ctx, supplier, o, ext); err != nil {
		t.Fatalf("CommitExtension: %v", err)
	}
	if !o.RentalEndDate.Equal(wantEnd) || ext.Status != orders.ExtensionAccepted {
		t.Errorf("end = %v, ext status = %v", o.RentalEndDate, ext.Status)
	}

	var ve *orders.ValidationError
	if err := e.m.CommitExtension(ctx, supplier, o, ext); !errors.As(err, &ve) {
		t.Errorf("commit twice: err = %v", err)
	}

	second, err := e.m.ProposeExtension(ctx, customer, o, 5, orders.UnitHour)
	if err != nil {
		t.Fatal(err)
	}
	if !second.PrevEndDate.Equal(wantEnd) {
		t.Errorf("second proposal counts from %v, want the extended end", second.PrevEndDate)
	}
	if err := e.m.RejectExtension(ctx, supplier, o, second); err != nil {
		t.Fatal(err)
	}
	if second.Status != orders.ExtensionRejected || !o.RentalEndDate.Equal(wantEnd) {
		t.Errorf("reject changed the order or left the proposal open")
	}

	if _, err := e.m.ProposeExtension(ctx, customer, o, 20, orders.UnitDay); !errors.As(err, &ve) {
		t.Errorf("out of range: err = %v", err)
	}
}

func TestExtensionNeedsPermission(t *testing.T) {
	e := newEnv(t)
	o := e.rent(t, false)
	if err := e.m.Approve(context.Background(), supplier, o); err != nil {
		t.Fatal(err)
	}
	if _, err := e.m.ProposeExtension(context.Background(), customer, o, 1, orders.UnitDay); !errors.Is(err, orders.ErrExtendNotAllowed) {
		t.Errorf("err = %v", err)
	}
	pending := e.rent(t, true)
	var it *orders.InvalidTransitionError
	if _, err := e.m.ProposeExtension(context.Background(), customer, pending, 1, orders.UnitDay); !errors.As(err, &it) {
		t.Errorf("pending order: err = %v", err)
	}
}
