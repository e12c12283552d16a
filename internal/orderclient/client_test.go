package orderclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/camrent-orders/internal/httpx"
	"github.com/ariefcatur/camrent-orders/internal/lifecycle"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/orderservice"
)

var (
	customer = orders.Actor{ID: "acc-1", Role: orders.RoleCustomer}
	supplier = orders.Actor{ID: "sup-1", Role: orders.RoleSupplier}
	staff    = orders.Actor{ID: "staff-1", Role: orders.RoleStaff}
)

func newServer(t *testing.T) (*Client, *orderservice.MemStore) {
	t.Helper()
	store := orderservice.NewMemStore(orders.Product{
		ID: "cam", SupplierID: supplier.ID, Name: "Body", Price: 6_000_000, Deposit: 1_000_000,
		Rates:           orders.Rates{orders.UnitDay: 120_000},
		DurationOptions: orders.DurationOptions{orders.UnitDay: {Min: 1, Max: 7}},
	})
	svc := orderservice.New(store, orderservice.Options{ReservationRate: decimal.RequireFromString("0.3")})
	r := httpx.NewRouter(nil)
	(&httpx.OrdersHandler{Service: svc, Timeout: time.Second}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second, srv.Client()), store
}

func rent(t *testing.T, c *Client) *orders.Order {
	t.Helper()
	co, err := c.CreateRent(context.Background(), customer, orderservice.RentRequest{
		BuyRequest: orderservice.BuyRequest{
			DeliveryMethod: "pickup",
			Items:          []orderservice.LineItem{{ProductID: "cam", Quantity: 1}},
		},
		RentalStartDate: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		DurationUnit:    orders.UnitDay,
		DurationValue:   2,
		IsExtend:        true,
	})
	if err != nil {
		t.Fatalf("create rent: %v", err)
	}
	return co.Order
}

func TestRentalLifecycleOverHTTP(t *testing.T) {
	c, _ := newServer(t)
	ctx := context.Background()
	m := lifecycle.NewMachine(c, nil)
	o := rent(t, c)

	if err := m.Approve(ctx, supplier, o); err != nil {
		t.Fatal(err)
	}
	if err := m.Ship(ctx, supplier, o); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Complete(ctx, staff, o); !errors.Is(err, orders.ErrReturnDetailRequired) {
		t.Fatalf("expected ErrReturnDetailRequired, got %v", err)
	}
	if o.OrderStatus != orders.StatusShipped {
		t.Fatalf("status moved to %s", o.OrderStatus)
	}

	if _, err := m.RecordReturn(ctx, staff, o, "scratched", 300_000); err != nil {
		t.Fatal(err)
	}
	s, err := m.Complete(ctx, staff, o)
	if err != nil {
		t.Fatal(err)
	}
	if o.OrderStatus != orders.StatusCompleted || s.Refund != 700_000 || s.Retained != 300_000 {
		t.Fatalf("unexpected close: %s %+v", o.OrderStatus, s)
	}

	var dup *orders.DuplicateReconciliationError
	_, err = c.CreateReturnDetail(ctx, staff, lifecycle.ReturnRequest{OrderID: o.ID, Condition: "again"})
	if !errors.As(err, &dup) || dup.OrderID != o.ID {
		t.Fatalf("expected DuplicateReconciliationError on a second return, got %v", err)
	}
	if _, err := m.Reconcile(ctx, staff, o); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateReconciliationError on a second reconcile, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	c, store := newServer(t)
	ctx := context.Background()
	o := rent(t, c)

	_, err := c.GetOrder(ctx, "missing")
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = c.UpdateStatus(ctx, supplier, lifecycle.StatusRequest{OrderID: o.ID, Op: orders.OpApprove, Expected: orders.StatusShipped})
	var conflict *orders.StateConflictError
	if !errors.As(err, &conflict) || conflict.OrderID != o.ID {
		t.Fatalf("expected StateConflictError for %s, got %v", o.ID, err)
	}

	bare := *o
	bare.ID = "no-delivery"
	bare.DeliveryMethod = ""
	bare.OrderStatus = orders.StatusApproved
	store.Put(&bare)
	_, err = c.UpdateStatus(ctx, supplier, lifecycle.StatusRequest{OrderID: bare.ID, Op: orders.OpShip, Expected: orders.StatusApproved})
	if !errors.Is(err, orders.ErrDeliveryMethodRequired) {
		t.Fatalf("expected ErrDeliveryMethodRequired, got %v", err)
	}

	_, err = c.UpdateStatus(ctx, orders.Actor{}, lifecycle.StatusRequest{OrderID: o.ID, Op: orders.OpApprove})
	var rej *orders.ServiceRejectedError
	if !errors.As(err, &rej) || rej.Code != orders.CodeValidation {
		t.Fatalf("expected VALIDATION rejection, got %v", err)
	}
}

func TestDuplicateReturnDetail(t *testing.T) {
	c, _ := newServer(t)
	ctx := context.Background()
	m := lifecycle.NewMachine(c, nil)
	o := rent(t, c)
	if err := m.Approve(ctx, supplier, o); err != nil {
		t.Fatal(err)
	}
	if err := m.Ship(ctx, supplier, o); err != nil {
		t.Fatal(err)
	}
	req := lifecycle.ReturnRequest{OrderID: o.ID, Condition: "ok"}
	if _, err := c.CreateReturnDetail(ctx, staff, req); err != nil {
		t.Fatal(err)
	}
	_, err := c.CreateReturnDetail(ctx, staff, req)
	var dup *orders.DuplicateReconciliationError
	if !errors.As(err, &dup) || dup.OrderID != o.ID {
		t.Fatalf("expected DuplicateReconciliationError, got %v", err)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, nil)
	_, err := c.GetOrder(context.Background(), "o-1")
	var ne *orders.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestNonEnvelopeBodyIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, time.Second, nil).GetOrder(context.Background(), "o-1")
	var ne *orders.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestOrderIDFromPath(t *testing.T) {
	cases := map[string]string{
		"/orders/o-1/approve":    "o-1",
		"/orders/o%2F2":          "o/2",
		"/extensions/e-1/accept": "",
	}
	for path, want := range cases {
		if got := orderID(path); got != want {
			t.Errorf("orderID(%q) = %q, want %q", path, got, want)
		}
	}
}
