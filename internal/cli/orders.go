package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
)

// NewOrdersCommand creates the orders command group.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Show and cancel placed orders",
	}

	var single bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an order group, or a single order with --single",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if single {
					o, err := s.app.Orders.Order(ctx, args[0])
					if err != nil {
						return err
					}
					return s.out.Success((*orderView)(o))
				}
				g, err := s.app.Orders.Group(ctx, args[0])
				if err != nil {
					return err
				}
				return s.out.Success((*groupView)(g))
			})
		},
	}
	show.Flags().BoolVar(&single, "single", false, "the id is a single-store order")
	cmd.AddCommand(show)

	cmd.AddCommand(newCancelCommand(rootOpts, "cancel <group-id>", "Cancel every store of an order group that has not started preparing",
		func(ctx context.Context, s *session, id, reason string) error {
			out, err := s.app.Orders.CancelGroup(ctx, id, reason)
			if out == nil {
				return err
			}
			view := &outcomeView{CancelOutcome: out, Message: out.Message(s.locale())}
			if err != nil {
				// The cancellation went through; only the refetch failed.
				s.out.VerboseLog("refreshing order group %s: %v", id, err)
			}
			return s.out.Success(view)
		}))

	cmd.AddCommand(newCancelCommand(rootOpts, "cancel-order <order-id>", "Cancel a single-store order",
		func(ctx context.Context, s *session, id, reason string) error {
			o, err := s.app.Orders.CancelOrder(ctx, id, reason)
			if err != nil {
				return err
			}
			return s.out.Success((*orderView)(o))
		}))

	return cmd
}

func newCancelCommand(rootOpts *RootOptions, use, short string, run func(ctx context.Context, s *session, id, reason string) error) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return run(ctx, s, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the order is canceled")
	return cmd
}

type groupView orders.GroupSummary

func (v *groupView) String() string {
	return groupText("Order group %s", (*orders.GroupSummary)(v))
}

type orderView orders.OrderDetail

func (v *orderView) String() string {
	o := (*orders.OrderDetail)(v)
	return fmt.Sprintf("Order %s\n  %-12s %-10s %10s", orderCode(o.Code, o.ID), o.ProviderID, o.Status, money(o.TotalCents))
}

// outcomeView is a cancellation outcome with its localized summary.
type outcomeView struct {
	*orders.CancelOutcome
	Message string `json:"message"`
}

func (v *outcomeView) String() string {
	if v.Group == nil {
		return v.Message
	}
	return v.Message + "\n" + groupText("Order group %s", v.Group)
}
