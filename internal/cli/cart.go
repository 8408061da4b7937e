package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/cart"
)

// CartAddOptions holds flags for cart add.
type CartAddOptions struct {
	*RootOptions
	Name       string
	PriceCents int64
	BranchID   string
	OptionIDs  []string
}

// NewCartCommand creates the cart command group.
func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and edit the cart",
		Long: `Show and edit the cart.

Signed out, the cart lives on this device. Signed in, every change goes to the
account cart and the server's prices and fees are shown.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return s.showCart(ctx)
			})
		},
	})

	cmd.AddCommand(newCartAddCommand(rootOpts))

	cmd.AddCommand(&cobra.Command{
		Use:   "set <item> <qty>",
		Short: "Set the quantity of a cart line (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if err := s.app.Cart.SetQuantity(ctx, args[0], qty); err != nil {
					return err
				}
				return s.showCart(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <item>",
		Short: "Remove a cart line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if err := s.app.Cart.Remove(ctx, args[0]); err != nil {
					return err
				}
				return s.showCart(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cart line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				u, err := s.app.Cart.Unified(ctx)
				if err != nil {
					return err
				}
				for _, it := range u.Items {
					if err := s.app.Cart.Remove(ctx, it.Ref()); err != nil {
						return err
					}
				}
				return s.showCart(ctx)
			})
		},
	})

	cmd.AddCommand(newCartCouponCommand(rootOpts))
	return cmd
}

func newCartAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CartAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <product> [qty]",
		Short: "Add a product to the cart",
		Long: `Add a product to the cart. Adding a product that is already in the cart
with the same options raises its quantity.

Example:
  fasket cart add p-milk 2 --name Milk --price 2500 --branch br-a
  fasket cart add p-cheese --option slice-thin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid quantity %q", args[1])
				}
				qty = n
			}
			entry := cart.LocalEntry{
				ProductID:      args[0],
				Name:           opts.Name,
				Quantity:       qty,
				UnitPriceCents: opts.PriceCents,
				BranchID:       opts.BranchID,
			}
			for _, id := range opts.OptionIDs {
				entry.Options = append(entry.Options, cart.Option{ID: id})
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if err := s.app.Cart.Add(ctx, entry); err != nil {
					return err
				}
				return s.showCart(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "product name shown in the guest cart")
	cmd.Flags().Int64Var(&opts.PriceCents, "price", 0, "unit price in cents as seen in the catalog")
	cmd.Flags().StringVar(&opts.BranchID, "branch", "", "branch selling the product")
	cmd.Flags().StringSliceVar(&opts.OptionIDs, "option", nil, "selected option id (repeatable)")
	return cmd
}

func newCartCouponCommand(rootOpts *RootOptions) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "coupon [code]",
		Short: "Apply or remove a coupon (signed in only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				var err error
				if remove {
					err = s.app.Cart.RemoveCoupon(ctx)
				} else {
					code := ""
					if len(args) == 1 {
						code = args[0]
					}
					err = s.app.Cart.ApplyCoupon(ctx, code)
				}
				if err != nil {
					return err
				}
				return s.showCart(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the applied coupon")
	return cmd
}

func (s *session) showCart(ctx context.Context) error {
	u, err := s.app.Cart.Unified(ctx)
	if err != nil {
		return err
	}
	return s.out.Success((*cartView)(u))
}

// cartView renders a unified cart.
type cartView cart.UnifiedCart

func (v *cartView) String() string {
	var b strings.Builder
	u := (*cart.UnifiedCart)(v)
	if u.IsEmpty() {
		fmt.Fprintf(&b, "Cart (%s) is empty", u.Source)
		return b.String()
	}

	fmt.Fprintf(&b, "Cart (%s, %d items)\n", u.Source, u.ItemCount())
	for _, it := range u.Items {
		name := it.Name
		if name == "" {
			name = it.ProductID
		}
		fmt.Fprintf(&b, "  %-20s %-16s x%-3d %10s\n", it.Ref(), name, it.Quantity, money(it.LineTotalCents))
	}

	sc := u.Server
	if sc == nil {
		fmt.Fprintf(&b, "%-12s %10s\n", "Subtotal", money(u.SubtotalCents))
		b.WriteString("Fees are calculated at checkout.")
		return b.String()
	}

	fmt.Fprintf(&b, "%-12s %10s\n", "Subtotal", money(sc.SubtotalCents))
	fmt.Fprintf(&b, "%-12s %10s\n", "Shipping", money(sc.ShippingFeeCents))
	fmt.Fprintf(&b, "%-12s %10s\n", "Service", money(sc.ServiceFeeCents))
	if sc.DiscountCents > 0 {
		fmt.Fprintf(&b, "%-12s %10s\n", "Discount", "-"+money(sc.DiscountCents))
	}
	if sc.LoyaltyDiscountCents > 0 {
		fmt.Fprintf(&b, "%-12s %10s\n", "Points", "-"+money(sc.LoyaltyDiscountCents))
	}
	if sc.CouponCode != "" {
		fmt.Fprintf(&b, "%-12s %10s\n", "Coupon", sc.CouponCode)
	}
	fmt.Fprintf(&b, "%-12s %10s", "Total", money(sc.TotalCents()))
	return b.String()
}

// money formats cents as a decimal amount.
func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
