// Package orderclient talks to the order service REST API and implements
// lifecycle.OrderService over HTTP.
package orderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/lifecycle"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/orderservice"
)

type Client struct {
	base string
	http *http.Client
}

var _ lifecycle.OrderService = (*Client)(nil)

// New returns a client for baseURL. hc may be nil; timeout bounds every call.
func New(baseURL string, timeout time.Duration, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout > 0 {
		c := *hc
		c.Timeout = timeout
		hc = &c
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

type envelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Result    json.RawMessage `json:"result"`
	Messages  []string        `json:"messages"`
	ErrorCode string          `json:"errorCode"`
}

// sentinels travel as their message text.
var sentinels = []error{
	orders.ErrReturnDetailRequired,
	orders.ErrDeliveryMethodRequired,
	orders.ErrExtendNotAllowed,
	orders.ErrAlreadyPaid,
}

func (c *Client) do(ctx context.Context, op string, actor *orders.Actor, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req.Header.Set(orders.HeaderActorID, actor.ID)
		req.Header.Set(orders.HeaderActorRole, string(actor.Role))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &orders.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &orders.NetworkError{Op: op, Err: fmt.Errorf("status %d: decode envelope: %w", resp.StatusCode, err)}
	}
	if !env.IsSuccess {
		return rejected(op, path, env)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &orders.NetworkError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// rejected rebuilds the typed error the service returned.
func rejected(op, path string, env envelope) error {
	id := orderID(path)
	switch env.ErrorCode {
	case orders.CodeStateConflict:
		return &orders.StateConflictError{OrderID: id}
	case orders.CodeDuplicateReconciliation:
		return &orders.DuplicateReconciliationError{OrderID: id}
	case orders.CodeNotFound:
		return fmt.Errorf("%s: %w", op, orders.ErrNotFound)
	}
	if len(env.Messages) == 1 {
		for _, s := range sentinels {
			if env.Messages[0] == s.Error() {
				return fmt.Errorf("%s: %w", op, s)
			}
		}
	}
	return &orders.ServiceRejectedError{Op: op, Code: env.ErrorCode, Messages: env.Messages}
}

// orderID pulls the id out of /orders/{id}/... paths.
func orderID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "orders" {
		id, _ := url.PathUnescape(parts[1])
		return id
	}
	return ""
}

func ordersPath(id string, rest ...string) string {
	p := "/orders/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	var o orders.Order
	if err := c.do(ctx, "get order", nil, http.MethodGet, ordersPath(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) UpdateStatus(ctx context.Context, actor orders.Actor, req lifecycle.StatusRequest) (*orders.Order, error) {
	var o orders.Order
	op := "update status " + string(req.Op)
	if err := c.do(ctx, op, &actor, http.MethodPut, ordersPath(req.OrderID, string(req.Op)), req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) Reconcile(ctx context.Context, actor orders.Actor, req lifecycle.ReconcileRequest) (*orders.Order, error) {
	var o orders.Order
	if err := c.do(ctx, "reconcile", &actor, http.MethodPost, ordersPath(req.OrderID, "reconcile"), req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) GetReturnDetail(ctx context.Context, orderID string) (*orders.ReturnDetail, error) {
	var rd orders.ReturnDetail
	if err := c.do(ctx, "get return detail", nil, http.MethodGet, ordersPath(orderID, "return-detail"), nil, &rd); err != nil {
		return nil, err
	}
	return &rd, nil
}

func (c *Client) CreateReturnDetail(ctx context.Context, actor orders.Actor, req lifecycle.ReturnRequest) (*orders.ReturnDetail, error) {
	var rd orders.ReturnDetail
	if err := c.do(ctx, "create return detail", &actor, http.MethodPost, ordersPath(req.OrderID, "return-detail"), req, &rd); err != nil {
		return nil, err
	}
	return &rd, nil
}

func (c *Client) CreateExtension(ctx context.Context, actor orders.Actor, ext orders.Extension) (*orders.Extension, error) {
	in := map[string]any{"durationUnit": ext.DurationUnit, "durationValue": ext.DurationValue}
	var out orders.Extension
	if err := c.do(ctx, "create extension", &actor, http.MethodPost, ordersPath(ext.OrderID, "extensions"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetExtension(ctx context.Context, extID string) (*orders.Extension, error) {
	var out orders.Extension
	if err := c.do(ctx, "get extension", nil, http.MethodGet, "/extensions/"+url.PathEscape(extID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type decision struct {
	Order     *orders.Order     `json:"order"`
	Extension *orders.Extension `json:"extension"`
}

func (c *Client) AcceptExtension(ctx context.Context, actor orders.Actor, extID string) (*orders.Order, *orders.Extension, error) {
	var d decision
	if err := c.do(ctx, "accept extension", &actor, http.MethodPut, "/extensions/"+url.PathEscape(extID)+"/accept", nil, &d); err != nil {
		return nil, nil, err
	}
	if d.Order == nil || d.Extension == nil {
		return nil, nil, &orders.NetworkError{Op: "accept extension", Err: fmt.Errorf("incomplete result")}
	}
	return d.Order, d.Extension, nil
}

func (c *Client) RejectExtension(ctx context.Context, actor orders.Actor, extID string) (*orders.Extension, error) {
	var d decision
	if err := c.do(ctx, "reject extension", &actor, http.MethodPut, "/extensions/"+url.PathEscape(extID)+"/reject", nil, &d); err != nil {
		return nil, err
	}
	return d.Extension, nil
}

// CreateBuy and CreateRent are used by the CLI; they are not part of the
// lifecycle surface.
func (c *Client) CreateBuy(ctx context.Context, actor orders.Actor, req orderservice.BuyRequest) (*orderservice.Checkout, error) {
	var co orderservice.Checkout
	if err := c.do(ctx, "create buy", &actor, http.MethodPost, "/orders/buy", req, &co); err != nil {
		return nil, err
	}
	return &co, nil
}

func (c *Client) CreateRent(ctx context.Context, actor orders.Actor, req orderservice.RentRequest) (*orderservice.Checkout, error) {
	var co orderservice.Checkout
	if err := c.do(ctx, "create rent", &actor, http.MethodPost, "/orders/rent", req, &co); err != nil {
		return nil, err
	}
	return &co, nil
}

func (c *Client) Ledger(ctx context.Context, orderID string) ([]ledger.Entry, error) {
	var out []ledger.Entry
	if err := c.do(ctx, "ledger", nil, http.MethodGet, ordersPath(orderID, "ledger"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
