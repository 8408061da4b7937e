package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/quote"
)

// QuoteOptions holds flags for the quote command.
type QuoteOptions struct {
	*RootOptions
	Address     string
	SlotID      string
	ScheduledAt string
}

// NewQuoteCommand creates the quote command.
func NewQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QuoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote delivery fees for the guest cart",
		Long: `Ask the server to price the guest cart for a delivery address.

Signed-in carts are priced by the server already; use "fasket cart show".

Example:
  fasket quote --address "12 Nile St, Cairo"`,
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
				if s.app.Session.IsAuthenticated() {
					return s.usageError("signed in: the account cart already carries fees, use \"fasket cart show\"")
				}
				in := s.app.QuoteInput(opts.Address)
				in.DeliveryWindowID = opts.SlotID
				in.ScheduledAt = at

				q, err := s.app.Quotes.Fetch(ctx, in)
				if err != nil {
					return err
				}
				if q == nil {
					q = &quote.Quote{Groups: []quote.GroupQuote{}, SkippedBranchIDs: []string{}}
				}
				return s.out.Success((*quoteView)(q))
			})
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "delivery address")
	cmd.Flags().StringVar(&opts.SlotID, "slot", "", "delivery window id")
	cmd.Flags().StringVar(&opts.ScheduledAt, "at", "", "scheduled delivery time (RFC 3339)")
	return cmd
}

type quoteView quote.Quote

func (v *quoteView) String() string {
	q := (*quote.Quote)(v)
	if len(q.Groups) == 0 && len(q.SkippedBranchIDs) == 0 {
		return "Nothing to quote: the cart is empty or no address was given"
	}

	var b strings.Builder
	b.WriteString("Delivery quote\n")
	for _, g := range q.Groups {
		fmt.Fprintf(&b, "  %-12s %10s  shipping %s", g.BranchID, money(g.SubtotalCents), money(g.ShippingFeeCents))
		switch {
		case g.DeliveryUnavailable:
			b.WriteString("  (no delivery to this address)")
		case g.DeliveryRequiresLocation:
			b.WriteString("  (needs a map location)")
		}
		b.WriteString("\n")
	}
	for _, id := range q.SkippedBranchIDs {
		fmt.Fprintf(&b, "  %-12s skipped\n", id)
	}
	fmt.Fprintf(&b, "%-12s %10s\n", "Subtotal", money(q.SubtotalCents))
	fmt.Fprintf(&b, "%-12s %10s\n", "Shipping", money(q.ShippingFeeCents))
	fmt.Fprintf(&b, "%-12s %10s\n", "Service", money(q.ServiceFeeCents))
	fmt.Fprintf(&b, "%-12s %10s", "Total", money(q.TotalCents()))
	return b.String()
}
