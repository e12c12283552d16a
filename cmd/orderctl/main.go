// Command orderctl drives orders through their lifecycle against a running
// order service.
//
//	orderctl --actor sup-1 --role supplier approve <order-id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/ariefcatur/camrent-orders/internal/config"
	"github.com/ariefcatur/camrent-orders/internal/lifecycle"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orderclient"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/orderservice"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], config.Load(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "orderctl:", err)
		os.Exit(1)
	}
}

type app struct {
	client  *orderclient.Client
	machine *lifecycle.Machine
	actor   orders.Actor
	out     io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"get":           cmdGet,
	"buy":           cmdBuy,
	"rent":          cmdRent,
	"pay":           edge(func(ctx context.Context, a *app, o *orders.Order) error { return a.machine.ConfirmPayment(ctx, a.actor, o) }),
	"approve":       edge(func(ctx context.Context, a *app, o *orders.Order) error { return a.machine.Approve(ctx, a.actor, o) }),
	"ship":          edge(func(ctx context.Context, a *app, o *orders.Order) error { return a.machine.Ship(ctx, a.actor, o) }),
	"accept-cancel": edge(func(ctx context.Context, a *app, o *orders.Order) error { return a.machine.AcceptCancel(ctx, a.actor, o) }),
	"cancel":        cmdCancel,
	"refund":        cmdRefund,
	"return":        cmdReturn,
	"complete":      cmdComplete,
	"reconcile":     cmdReconcile,
	"extend":        cmdExtend,
	"accept-ext":    decideExt(true),
	"reject-ext":    decideExt(false),
	"ledger":        cmdLedger,
}

func run(ctx context.Context, args []string, cfg config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("orderctl", flag.ContinueOnError)
	fs.SetInterspersed(false)
	baseURL := fs.String("url", cfg.OrderService.BaseURL, "order service base URL")
	timeout := fs.Duration("timeout", cfg.OrderService.Timeout, "per-request timeout")
	actorID := fs.String("actor", os.Getenv("ORDERCTL_ACTOR"), "acting account id")
	role := fs.String("role", os.Getenv("ORDERCTL_ROLE"), "acting role: customer, staff or supplier")
	verbose := fs.BoolP("verbose", "v", false, "log lifecycle steps")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: orderctl [flags] <command> [args]\n\ncommands: %s\n\nflags:\n", strings.Join(commandNames(), ", "))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	log := logger.Nop()
	if *verbose {
		log = logger.New("debug", config.LogFileConfig{})
		defer log.Close()
	}
	client := orderclient.New(*baseURL, *timeout, nil)
	a := &app{
		client:  client,
		machine: lifecycle.NewMachine(client, log),
		actor:   orders.Actor{ID: *actorID, Role: orders.Role(*role)},
		out:     out,
	}
	return cmd(ctx, a, rest[1:])
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// load fetches the order named by the single positional argument.
func (a *app) load(ctx context.Context, args []string) (*orders.Order, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one order id")
	}
	return a.client.GetOrder(ctx, args[0])
}

func edge(fn func(ctx context.Context, a *app, o *orders.Order) error) command {
	return func(ctx context.Context, a *app, args []string) error {
		o, err := a.load(ctx, args)
		if err != nil {
			return err
		}
		if err := fn(ctx, a, o); err != nil {
			return err
		}
		return a.print(o)
	}
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	o, err := a.load(ctx, args)
	if err != nil {
		return err
	}
	return a.print(o)
}

// orderFlags are shared by buy and rent.
type orderFlags struct {
	fs         *flag.FlagSet
	items      *[]string
	externalID *string
	delivery   *string
	voucher    *string
	discount   *int64
}

func newOrderFlags(name string) orderFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return orderFlags{
		fs:         fs,
		items:      fs.StringArrayP("item", "i", nil, "product[:quantity[:discount]], repeatable"),
		externalID: fs.String("external-id", "", "idempotency key"),
		delivery:   fs.String("delivery", "", "delivery method"),
		voucher:    fs.String("voucher", "", "voucher id"),
		discount:   fs.Int64("discount", 0, "order discount amount"),
	}
}

func (f orderFlags) request() (orderservice.BuyRequest, error) {
	items, err := parseItems(*f.items)
	if err != nil {
		return orderservice.BuyRequest{}, err
	}
	req := orderservice.BuyRequest{
		ExternalID:     *f.externalID,
		DiscountAmount: orders.Money(*f.discount),
		DeliveryMethod: *f.delivery,
		Items:          items,
	}
	if *f.voucher != "" {
		req.VoucherID = f.voucher
	}
	return req, nil
}

// parseItems reads "cam", "cam:2" or "cam:2:50000".
func parseItems(specs []string) ([]orderservice.LineItem, error) {
	out := make([]orderservice.LineItem, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if parts[0] == "" || len(parts) > 3 {
			return nil, fmt.Errorf("bad item %q", s)
		}
		it := orderservice.LineItem{ProductID: parts[0], Quantity: 1}
		if len(parts) > 1 {
			q, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("bad quantity in %q: %w", s, err)
			}
			it.Quantity = q
		}
		if len(parts) > 2 {
			d, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad discount in %q: %w", s, err)
			}
			it.Discount = orders.Money(d)
		}
		out = append(out, it)
	}
	return out, nil
}

func cmdBuy(ctx context.Context, a *app, args []string) error {
	f := newOrderFlags("buy")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	req, err := f.request()
	if err != nil {
		return err
	}
	co, err := a.client.CreateBuy(ctx, a.actor, req)
	if err != nil {
		return err
	}
	return a.print(co)
}

func cmdRent(ctx context.Context, a *app, args []string) error {
	f := newOrderFlags("rent")
	start := f.fs.String("start", "", "rental start, RFC 3339")
	unit := f.fs.String("unit", "day", "duration unit: hour, day, week or month")
	value := f.fs.Int("value", 1, "number of units")
	extendable := f.fs.Bool("extendable", true, "allow extensions")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	buy, err := f.request()
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	u, err := orders.ParseDurationUnit(*unit)
	if err != nil {
		return err
	}
	co, err := a.client.CreateRent(ctx, a.actor, orderservice.RentRequest{
		BuyRequest:      buy,
		RentalStartDate: at,
		DurationUnit:    u,
		DurationValue:   *value,
		IsExtend:        *extendable,
	})
	if err != nil {
		return err
	}
	return a.print(co)
}

func cmdCancel(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	reason := fs.StringP("reason", "r", "", "cancellation message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := a.load(ctx, fs.Args())
	if err != nil {
		return err
	}
	if err := a.machine.Cancel(ctx, a.actor, o, *reason); err != nil {
		return err
	}
	return a.print(o)
}

func cmdRefund(ctx context.Context, a *app, args []string) error {
	o, err := a.load(ctx, args)
	if err != nil {
		return err
	}
	refund, err := a.machine.Refund(ctx, a.actor, o)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"order": o, "refunded": refund})
}

func cmdReturn(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("return", flag.ContinueOnError)
	condition := fs.String("condition", "", "inspected condition")
	penalty := fs.Int64("penalty", 0, "penalty charged against the deposit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := a.load(ctx, fs.Args())
	if err != nil {
		return err
	}
	rd, err := a.machine.RecordReturn(ctx, a.actor, o, *condition, orders.Money(*penalty))
	if err != nil {
		return err
	}
	return a.print(rd)
}

func cmdComplete(ctx context.Context, a *app, args []string) error {
	o, err := a.load(ctx, args)
	if err != nil {
		return err
	}
	s, err := a.machine.Complete(ctx, a.actor, o)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"order": o, "settlement": s})
}

func cmdReconcile(ctx context.Context, a *app, args []string) error {
	o, err := a.load(ctx, args)
	if err != nil {
		return err
	}
	s, err := a.machine.Reconcile(ctx, a.actor, o)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"order": o, "settlement": s})
}

func cmdExtend(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("extend", flag.ContinueOnError)
	unit := fs.String("unit", "day", "duration unit")
	value := fs.Int("value", 1, "number of units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := orders.ParseDurationUnit(*unit)
	if err != nil {
		return err
	}
	o, err := a.load(ctx, fs.Args())
	if err != nil {
		return err
	}
	ext, err := a.machine.ProposeExtension(ctx, a.actor, o, *value, u)
	if err != nil {
		return err
	}
	return a.print(ext)
}

// decideExt takes an extension id.
func decideExt(accept bool) command {
	return func(ctx context.Context, a *app, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one extension id")
		}
		ext, err := a.client.GetExtension(ctx, args[0])
		if err != nil {
			return err
		}
		o, err := a.client.GetOrder(ctx, ext.OrderID)
		if err != nil {
			return err
		}
		if accept {
			err = a.machine.CommitExtension(ctx, a.actor, o, ext)
		} else {
			err = a.machine.RejectExtension(ctx, a.actor, o, ext)
		}
		if err != nil {
			return err
		}
		return a.print(map[string]any{"order": o, "extension": ext})
	}
}

func cmdLedger(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one order id")
	}
	entries, err := a.client.Ledger(ctx, args[0])
	if err != nil {
		return err
	}
	return a.print(entries)
}
