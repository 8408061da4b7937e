package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/cart"
)

// selectionKey stores the chosen delivery address between invocations.
const selectionKey = "cli.selection"

// NewAddressCommand creates the address command.
func NewAddressCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address [address-id zone-id]",
		Short: "Show or choose the delivery address",
		Long: `Show or choose the saved address and zone the account cart is priced for
and signed-in orders are delivered to.

Example:
  fasket address addr-1 zone-3`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if len(args) == 2 {
					s.app.Cart.SelectAddress(args[0], args[1])
					if err := s.saveSelection(ctx); err != nil {
						return err
					}
				}
				return s.out.Success(selectionView(s.app.Cart.Selection()))
			})
		},
	}
}

type selectionView cart.Selection

func (v selectionView) String() string {
	if v.AddressID == "" && v.ZoneID == "" {
		return "No delivery address selected"
	}
	return fmt.Sprintf("Delivering to address %s in zone %s", v.AddressID, v.ZoneID)
}

func (s *session) saveSelection(ctx context.Context) error {
	raw, err := json.Marshal(s.app.Cart.Selection())
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	return s.app.Store.Put(ctx, selectionKey, raw)
}

// restoreSelection applies the address chosen in an earlier invocation.
func (s *session) restoreSelection(ctx context.Context) error {
	raw, ok, err := s.app.Store.Get(ctx, selectionKey)
	if err != nil || !ok {
		return err
	}
	var sel cart.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		s.out.VerboseLog("ignoring unreadable address selection: %v", err)
		return nil
	}
	s.app.Cart.SelectAddress(sel.AddressID, sel.ZoneID)
	return nil
}
