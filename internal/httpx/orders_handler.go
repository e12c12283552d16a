package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/lifecycle"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/orderservice"
	"github.com/ariefcatur/camrent-orders/internal/redisx"
)

// StatusCache is satisfied by redisx.StatusCache.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.StatusView, bool, error)
	Put(ctx context.Context, v redisx.StatusView) error
}

// Idempotency is satisfied by redisx.Idempotency.
type Idempotency interface {
	Lookup(ctx context.Context, externalID string) (string, bool, error)
	Remember(ctx context.Context, externalID, orderID string) error
}

// LedgerReader is satisfied by *ledger.Repo.
type LedgerReader interface {
	ForOrder(ctx context.Context, orderID string) ([]ledger.Entry, error)
}

// OrdersHandler serves the order service API. Cache, Idem and Ledger are
// optional.
type OrdersHandler struct {
	Service *orderservice.Service
	Cache   StatusCache
	Idem    Idempotency
	Ledger  LedgerReader
	Log     *logger.Logger
	Timeout time.Duration
}

type envelope struct {
	IsSuccess bool     `json:"isSuccess"`
	Result    any      `json:"result"`
	Messages  []string `json:"messages"`
	ErrorCode string   `json:"errorCode,omitempty"`
}

type extensionRequest struct {
	DurationUnit  orders.DurationUnit `json:"durationUnit"`
	DurationValue int                 `json:"durationValue"`
}

type extensionDecision struct {
	Order     *orders.Order     `json:"order"`
	Extension *orders.Extension `json:"extension"`
}

// statusOps are the PUT /orders/{id}/{op} edges.
var statusOps = []orders.Op{
	orders.OpApprove, orders.OpShip, orders.OpComplete, orders.OpCancel,
	orders.OpPendingRefund, orders.OpAcceptCancel, orders.OpRefund, orders.OpPlaced,
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/buy", h.createBuy)
	r.Post("/orders/rent", h.createRent)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	for _, op := range statusOps {
		r.Put("/orders/{id}/"+string(op), h.updateStatus(op))
	}
	r.Post("/orders/{id}/reconcile", h.reconcile)
	r.Post("/orders/{id}/return-detail", h.createReturnDetail)
	r.Get("/orders/{id}/return-detail", h.getReturnDetail)
	r.Post("/orders/{id}/extensions", h.createExtension)
	r.Get("/extensions/{id}", h.getExtension)
	r.Put("/extensions/{id}/accept", h.acceptExtension)
	r.Put("/extensions/{id}/reject", h.rejectExtension)
	r.Get("/orders/{id}/ledger", h.getLedger)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) ok(w http.ResponseWriter, code int, result any) {
	writeJSON(w, code, envelope{IsSuccess: true, Result: result, Messages: []string{}})
}

// fail maps err onto an HTTP status and wire error code.
func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := orders.ErrorCode(err)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch code {
	case orders.CodeValidation:
		status = http.StatusBadRequest
	case orders.CodeInvalidTransition:
		status = http.StatusUnprocessableEntity
	case orders.CodeStateConflict, orders.CodeDuplicateReconciliation:
		status = http.StatusConflict
	case orders.CodeNotFound:
		status = http.StatusNotFound
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.log().Error("request failed", "path", r.URL.Path, err)
		msg = "internal error"
	}
	writeJSON(w, status, envelope{Messages: []string{msg}, ErrorCode: code})
}

func (h *OrdersHandler) badJSON(w http.ResponseWriter, r *http.Request, err error) {
	h.fail(w, r, &orders.ValidationError{Field: "body", Reason: "invalid json: " + err.Error()})
}

func actorOf(r *http.Request) orders.Actor {
	return orders.Actor{
		ID:   r.Header.Get(orders.HeaderActorID),
		Role: orders.Role(r.Header.Get(orders.HeaderActorRole)),
	}
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *OrdersHandler) log() *logger.Logger {
	if h.Log == nil {
		return logger.Nop()
	}
	return h.Log
}

// cache refreshes the status view; a cache failure never fails the request.
func (h *OrdersHandler) cache(ctx context.Context, o *orders.Order) {
	if h.Cache == nil || o == nil {
		return
	}
	if err := h.Cache.Put(ctx, redisx.ViewOf(o)); err != nil {
		h.log().Warn("status cache put", "order_id", o.ID, err)
	}
}

func (h *OrdersHandler) createBuy(w http.ResponseWriter, r *http.Request) {
	var req orderservice.BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badJSON(w, r, err)
		return
	}
	h.create(w, r, req.ExternalID, func(ctx context.Context, a orders.Actor) (*orderservice.Checkout, error) {
		return h.Service.CreateBuy(ctx, a, req)
	})
}

func (h *OrdersHandler) createRent(w http.ResponseWriter, r *http.Request) {
	var req orderservice.RentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badJSON(w, r, err)
		return
	}
	h.create(w, r, req.ExternalID, func(ctx context.Context, a orders.Actor) (*orderservice.Checkout, error) {
		return h.Service.CreateRent(ctx, a, req)
	})
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request, externalID string, run func(context.Context, orders.Actor) (*orderservice.Checkout, error)) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	actor := actorOf(r)

	// Redis fast path; the database stays the source of truth
	if h.Idem != nil && externalID != "" {
		if id, ok, err := h.Idem.Lookup(ctx, externalID); err == nil && ok {
			if c, err := h.Service.Replay(ctx, actor, id); err == nil {
				h.ok(w, http.StatusOK, c)
				return
			}
		}
	}

	c, err := run(ctx, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Idem != nil && externalID != "" {
		if err := h.Idem.Remember(ctx, externalID, c.Order.ID); err != nil {
			h.log().Warn("idempotency remember", "external_id", externalID, err)
		}
	}
	h.cache(ctx, c.Order)

	status := http.StatusCreated
	if c.Idempotent {
		status = http.StatusOK
	}
	h.ok(w, status, c)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	id := chi.URLParam(r, "id")

	if h.Cache != nil {
		if v, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			h.ok(w, http.StatusOK, v)
			return
		}
	}
	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cache(ctx, o)
	h.ok(w, http.StatusOK, redisx.ViewOf(o))
}

func (h *OrdersHandler) updateStatus(op orders.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lifecycle.StatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badJSON(w, r, err)
			return
		}
		req.OrderID = chi.URLParam(r, "id")
		req.Op = op

		ctx, cancel := h.ctx(r)
		defer cancel()
		o, err := h.Service.UpdateStatus(ctx, actorOf(r), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.cache(ctx, o)
		h.ok(w, http.StatusOK, o)
	}
}

func (h *OrdersHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badJSON(w, r, err)
		return
	}
	req.OrderID = chi.URLParam(r, "id")

	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := h.Service.Reconcile(ctx, actorOf(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cache(ctx, o)
	h.ok(w, http.StatusOK, o)
}

func (h *OrdersHandler) createReturnDetail(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badJSON(w, r, err)
		return
	}
	req.OrderID = chi.URLParam(r, "id")

	ctx, cancel := h.ctx(r)
	defer cancel()
	rd, err := h.Service.CreateReturnDetail(ctx, actorOf(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, rd)
}

func (h *OrdersHandler) getReturnDetail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	rd, err := h.Service.GetReturnDetail(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, rd)
}

func (h *OrdersHandler) createExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badJSON(w, r, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	ext, err := h.Service.CreateExtension(ctx, actorOf(r), orders.Extension{
		OrderID:       chi.URLParam(r, "id"),
		DurationUnit:  req.DurationUnit,
		DurationValue: req.DurationValue,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, ext)
}

func (h *OrdersHandler) getExtension(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	ext, err := h.Service.GetExtension(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, ext)
}

func (h *OrdersHandler) acceptExtension(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	o, ext, err := h.Service.AcceptExtension(ctx, actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cache(ctx, o)
	h.ok(w, http.StatusOK, extensionDecision{Order: o, Extension: ext})
}

func (h *OrdersHandler) rejectExtension(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	ext, err := h.Service.RejectExtension(ctx, actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, extensionDecision{Extension: ext})
}

func (h *OrdersHandler) getLedger(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		h.fail(w, r, orders.ErrNotFound)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	entries, err := h.Ledger.ForOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	h.ok(w, http.StatusOK, entries)
}
