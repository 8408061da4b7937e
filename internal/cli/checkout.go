package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/checkout"
	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
)

// CheckoutOptions holds flags for the checkout command.
type CheckoutOptions struct {
	*RootOptions
	AcceptTerms          bool
	RequiresWeightNotice bool
	AcceptWeightNotice   bool
	Name                 string
	Phone                string
	Address              string
	Payment              string
	SavedMethodID        string
	SlotID               string
	ScheduledAt          string
	Coupon               string
	Points               int
	Note                 string
}

// NewCheckoutCommand creates the checkout command.
func NewCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart",
		Long: `Place an order for the cart.

Guests give a name, phone and address; signed-in shoppers order to the address
chosen with "fasket address". Every precondition is checked before anything is
sent. If placing the order fails, running checkout again for the same
signed-in cart reuses the idempotency key of the failed attempt.

Example:
  fasket checkout --accept-terms --name Mona --phone 01012345678 --address "12 Nile St"
  fasket checkout --accept-terms --payment CARD --saved-method pm_1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var at *time.Time
			if opts.ScheduledAt != "" {
				t, err := time.Parse(time.RFC3339, opts.ScheduledAt)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", opts.ScheduledAt, err)
				}
				at = &t
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return s.checkout(ctx, opts, at)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.AcceptTerms, "accept-terms", false, "accept the delivery terms")
	cmd.Flags().BoolVar(&opts.RequiresWeightNotice, "weight-notice", false, "the cart holds items priced by weight")
	cmd.Flags().BoolVar(&opts.AcceptWeightNotice, "accept-weight-notice", false, "accept the weight-based pricing notice")
	cmd.Flags().StringVar(&opts.Name, "name", "", "guest name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "guest phone")
	cmd.Flags().StringVar(&opts.Address, "address", "", "guest delivery address")
	cmd.Flags().StringVar(&opts.Payment, "payment", string(checkout.PaymentCash), "payment method (COD|CARD|WALLET)")
	cmd.Flags().StringVar(&opts.SavedMethodID, "saved-method", "", "saved card or wallet id")
	cmd.Flags().StringVar(&opts.SlotID, "slot", "", "delivery window id (schedules the order)")
	cmd.Flags().StringVar(&opts.ScheduledAt, "at", "", "scheduled delivery time (RFC 3339)")
	cmd.Flags().StringVar(&opts.Coupon, "coupon", "", "coupon code")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "loyalty points to redeem")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note for the stores")

	cmd.AddCommand(&cobra.Command{
		Use:   "abandon",
		Short: "Forget the pending attempt so the next checkout uses a new key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if err := s.app.AbandonCheckout(ctx); err != nil {
					return err
				}
				return s.out.Success(message("Pending checkout discarded"))
			})
		},
	})

	return cmd
}

func (s *session) checkout(ctx context.Context, opts *CheckoutOptions, at *time.Time) error {
	cartID, items, err := s.app.CheckoutCart(ctx)
	if err != nil {
		return err
	}
	sel := s.app.Cart.Selection()

	req := checkout.Request{
		CartID:               cartID,
		Items:                items,
		AcceptedTerms:        opts.AcceptTerms,
		RequiresWeightNotice: opts.RequiresWeightNotice,
		AcceptedWeightNotice: opts.AcceptWeightNotice,
		AddressID:            sel.AddressID,
		ZoneID:               sel.ZoneID,
		Contact:              checkout.Contact{Name: opts.Name, Phone: opts.Phone, Address: opts.Address},
		PaymentMethod:        checkout.PaymentMethod(strings.ToUpper(strings.TrimSpace(opts.Payment))),
		SavedMethodID:        opts.SavedMethodID,
		Mode:                 checkout.ModeASAP,
		DeliveryWindowID:     opts.SlotID,
		ScheduledAt:          at,
		CouponCode:           opts.Coupon,
		LoyaltyPoints:        opts.Points,
		Note:                 opts.Note,
	}
	if opts.SlotID != "" || at != nil {
		req.Mode = checkout.ModeScheduled
	}

	sub := s.app.NewCheckout(nil)
	res, err := sub.Submit(ctx, req)
	if err != nil {
		if key := sub.Key(); key != "" {
			s.out.VerboseLog("checkout attempt kept idempotency key %s for the retry", key)
		}
		return err
	}
	return s.out.Success((*resultView)(res))
}

type resultView checkout.Result

func (v *resultView) String() string {
	r := (*checkout.Result)(v)
	if r.IsGroup() {
		return groupText("Order group %s placed", r.Group)
	}
	o := r.Order
	return fmt.Sprintf("Order %s placed\n  %-12s %-10s %10s", orderCode(o.Code, o.ID), o.ProviderID, o.Status, money(o.TotalCents))
}

// groupText renders a group headline followed by one line per store.
func groupText(headline string, g *orders.GroupSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, headline, orderCode(g.Code, g.OrderGroupID))
	fmt.Fprintf(&b, " (%d stores, %s)", len(g.Orders), money(g.TotalCents))
	for _, e := range orders.Eligibility(g) {
		if e.Cancelable {
			fmt.Fprintf(&b, "\n  %-12s %-18s %-16s cancelable", e.ProviderID, e.OrderID, e.Status)
		} else {
			fmt.Fprintf(&b, "\n  %-12s %-18s %s", e.ProviderID, e.OrderID, e.Status)
		}
	}
	return b.String()
}

func orderCode(code, id string) string {
	if code != "" {
		return code
	}
	return id
}
