package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/checkout"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// UsageError is returned for malformed command lines.
type UsageError struct {
	Command string
	Reason  string
}

func (e *UsageError) Error() string {
	if e.Command == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, e *Env, args []string) error
}

func commands() []command {
	return []command{
		{"products", "", "List the catalog", runProducts},
		{"add", "<product-id> [quantity]", "Add a product to the cart", runAdd},
		{"remove", "<product-id>", "Remove a product from the cart", runRemove},
		{"update", "<product-id> <quantity>", "Set the quantity of a cart line", runUpdate},
		{"clear", "", "Empty the cart", runClear},
		{"show", "", "Show the cart", runShow},
		{"checkout", "[-coupon CODE]", "Place an order for the cart", runCheckout},
		{"orders", "", "List orders of the customer", runOrders},
		{"order-status", "<order-id> <status>", "Move an order to another status", runOrderStatus},
		{"return", "<order-id>", "Request a return of a delivered order", runReturn},
		{"doctor", "", "Check connectivity of the cart store and database", runDoctor},
	}
}

// Execute runs the command named by args[0].
func (e *Env) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		e.usage()
		return &UsageError{Reason: "command required"}
	}
	name, rest := args[0], args[1:]
	if name == "help" || name == "-h" || name == "--help" {
		e.usage()
		return nil
	}
	for _, cmd := range commands() {
		if cmd.name != name {
			continue
		}
		zctx.From(ctx).Debug("Running command", zap.String("command", name), zap.Strings("args", rest))
		return cmd.run(ctx, e, rest)
	}
	e.usage()
	return &UsageError{Reason: fmt.Sprintf("unknown command %q", name)}
}

func (e *Env) usage() {
	tw := newTable(e.Out)
	fmt.Fprintln(tw, "Usage: storefront <command> [arguments]")
	fmt.Fprintln(tw)
	for _, cmd := range commands() {
		fmt.Fprintf(tw, "  %s %s\t%s\n", cmd.name, cmd.args, cmd.summary)
	}
	_ = tw.Flush()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func wantArgs(name string, args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return &UsageError{Command: name, Reason: fmt.Sprintf("expected %d to %d arguments, got %d", lo, hi, len(args))}
	}
	return nil
}

func parseQuantity(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &UsageError{Command: name, Reason: fmt.Sprintf("invalid quantity %q", s)}
	}
	return n, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func (e *Env) printSummary(c *cart.Cart) {
	fmt.Fprintf(e.Out, "Cart: %d items, total %s\n", c.TotalItems(), money(c.TotalPrice()))
}

func runProducts(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("products", args, 0, 0); err != nil {
		return err
	}
	b, err := e.Backend(ctx)
	if err != nil {
		return err
	}
	list, err := b.Products.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}

	tw := newTable(e.Out)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, money(p.Price))
	}
	return tw.Flush()
}

func runAdd(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("add", args, 1, 2); err != nil {
		return err
	}
	qty := 1
	if len(args) == 2 {
		var err error
		if qty, err = parseQuantity("add", args[1]); err != nil {
			return err
		}
	}

	b, err := e.Backend(ctx)
	if err != nil {
		return err
	}
	p, err := b.Products.GetByID(ctx, args[0])
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return errors.Errorf("product %q not found", args[0])
		}
		return errors.Wrap(err, "get product")
	}

	c, err := e.Cart(ctx)
	if err != nil {
		return err
	}
	if err := c.Add(ctx, p.CartLine(qty)); err != nil {
		return err
	}
	added, _ := c.Snapshot().Line(p.ID)
	fmt.Fprintf(e.Out, "Added %s (now %d in cart)\n", p.Name, added.Quantity)
	e.printSummary(c)
	return nil
}

func runRemove(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("remove", args, 1, 1); err != nil {
		return err
	}
	c, err := e.Cart(ctx)
	if err != nil {
		return err
	}
	if _, ok := c.Snapshot().Line(args[0]); !ok {
		fmt.Fprintf(e.Out, "Product %s is not in the cart\n", args[0])
		return nil
	}
	if err := c.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "Removed %s\n", args[0])
	e.printSummary(c)
	return nil
}

func runUpdate(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("update", args, 2, 2); err != nil {
		return err
	}
	qty, err := parseQuantity("update", args[1])
	if err != nil {
		return err
	}
	c, err := e.Cart(ctx)
	if err != nil {
		return err
	}
	if _, ok := c.Snapshot().Line(args[0]); !ok {
		fmt.Fprintf(e.Out, "Product %s is not in the cart\n", args[0])
		return nil
	}
	if err := c.UpdateQuantity(ctx, args[0], qty); err != nil {
		return err
	}
	if l, ok := c.Snapshot().Line(args[0]); ok {
		fmt.Fprintf(e.Out, "Set %s to %d\n", l.Name, l.Quantity)
	} else {
		fmt.Fprintf(e.Out, "Removed %s\n", args[0])
	}
	e.printSummary(c)
	return nil
}

func runClear(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("clear", args, 0, 0); err != nil {
		return err
	}
	c, err := e.Cart(ctx)
	if err != nil {
		return err
	}
	if err := c.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.Out, "Cart cleared")
	return nil
}

func runShow(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("show", args, 0, 0); err != nil {
		return err
	}
	c, err := e.Cart(ctx)
	if err != nil {
		return err
	}
	snap := c.Snapshot()
	if snap.IsEmpty() {
		fmt.Fprintln(e.Out, "Cart is empty")
		return nil
	}

	tw := newTable(e.Out)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL")
	for _, l := range snap.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", l.ID, l.Name, l.Quantity, money(l.Price), money(l.Subtotal()))
	}
	fmt.Fprintf(tw, "\tTOTAL\t%d\t\t%s\n", snap.TotalItems(), money(snap.TotalPrice()))
	return tw.Flush()
}

func runCheckout(ctx context.Context, e *Env, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.SetOutput(e.Out)
	code := fs.String("coupon", "", "coupon code to apply")
	if err := fs.Parse(args); err != nil {
		return &UsageError{Command: "checkout", Reason: err.Error()}
	}
	if err := wantArgs("checkout", fs.Args(), 0, 0); err != nil {
		return err
	}

	c, err := e.Cart(ctx)
	if err != nil {
		return err
	}
	if c.Snapshot().IsEmpty() {
		return checkout.ErrEmptyCart
	}
	svc, err := e.Checkout(ctx)
	if err != nil {
		return err
	}

	o, err := svc.Checkout(ctx, c, checkout.Request{
		CustomerID: e.Config.CustomerID,
		CouponCode: *code,
	})
	if o != nil {
		printOrder(e.Out, o)
	}
	return err
}

func printOrder(w io.Writer, o *order.Order) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Order\t%s\n", o.ID)
	fmt.Fprintf(tw, "Status\t%s\n", o.Status)
	fmt.Fprintf(tw, "Items\t%d\n", o.ItemCount())
	fmt.Fprintf(tw, "Subtotal\t%s\n", money(o.Subtotal))
	if !o.Discounts.IsZero() {
		fmt.Fprintf(tw, "Discount\t-%s (%s)\n", money(o.Discounts), o.CouponCode)
	}
	fmt.Fprintf(tw, "Total\t%s\n", money(o.Total))
	_ = tw.Flush()
}

func runOrders(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("orders", args, 0, 0); err != nil {
		return err
	}
	b, err := e.Backend(ctx)
	if err != nil {
		return err
	}
	orders, err := order.NewService(b.Orders).History(ctx, e.Config.CustomerID)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintf(e.Out, "No orders for %s\n", e.Config.CustomerID)
		return nil
	}

	tw := newTable(e.Out)
	fmt.Fprintln(tw, "ID\tSTATUS\tITEMS\tTOTAL\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			o.ID, o.Status, o.ItemCount(), money(o.Total), o.CreatedAt.UTC().Format(time.DateTime))
	}
	return tw.Flush()
}

func runOrderStatus(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("order-status", args, 2, 2); err != nil {
		return err
	}
	to, err := order.ParseStatus(args[1])
	if err != nil {
		return &UsageError{Command: "order-status", Reason: err.Error()}
	}
	b, err := e.Backend(ctx)
	if err != nil {
		return err
	}
	o, err := order.NewService(b.Orders).Transition(ctx, args[0], to)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "Order %s is now %s\n", o.ID, o.Status)
	return nil
}

func runReturn(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("return", args, 1, 1); err != nil {
		return err
	}
	b, err := e.Backend(ctx)
	if err != nil {
		return err
	}
	o, err := order.NewService(b.Orders).RequestReturn(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "Return requested for order %s\n", o.ID)
	return nil
}

func runDoctor(ctx context.Context, e *Env, args []string) error {
	if err := wantArgs("doctor", args, 0, 0); err != nil {
		return err
	}
	report := e.doctor(ctx)

	tw := newTable(e.Out)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tTIME\tERROR")
	for _, r := range report.Checks {
		status, msg := "ok", ""
		if !r.OK() {
			status, msg = "fail", r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, status, r.Duration.Round(time.Millisecond), msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !report.Healthy() {
		return errors.Errorf("%d of %d checks failed", len(report.Failures()), len(report.Checks))
	}
	return nil
}
