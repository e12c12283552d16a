// Package payment is the opaque boundary to the payment gateway.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// Gateway returns where the buyer is sent to pay for an order.
type Gateway interface {
	CheckoutURL(ctx context.Context, o *orders.Order, amount orders.Money) (string, error)
}

// Redirect builds a hosted-checkout URL under Base.
type Redirect struct {
	Base string
}

func (r Redirect) CheckoutURL(_ context.Context, o *orders.Order, amount orders.Money) (string, error) {
	u, err := url.Parse(r.Base)
	if err != nil {
		return "", fmt.Errorf("payment base url: %w", err)
	}
	q := u.Query()
	q.Set("order_id", o.ID)
	q.Set("amount", strconv.FormatInt(int64(amount), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Noop never redirects.
type Noop struct{}

func (Noop) CheckoutURL(context.Context, *orders.Order, orders.Money) (string, error) { return "", nil }
