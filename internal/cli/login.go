package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/api"
)

// passwordEnv lets scripts pass the password without putting it on the
// command line.
const passwordEnv = "FASKET_PASSWORD"

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Phone    string
	Email    string
	Password string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in; a guest cart is merged into the account cart",
		Long: `Sign in with a phone number or email.

The first login of an account on this device sends the guest cart to the
server once; the guest cart is emptied afterwards.

Example:
  FASKET_PASSWORD=... fasket login --phone 01012345678`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := opts.Password
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if opts.Phone == "" && opts.Email == "" {
				return errors.New("one of --phone or --email is required")
			}
			if password == "" {
				return fmt.Errorf("--password or %s is required", passwordEnv)
			}
			creds := api.Credentials{Phone: opts.Phone, Email: opts.Email, Password: password}

			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				guestLines := s.app.Cart.Local().Len()
				if err := s.app.Login(ctx, creds); err != nil {
					return err
				}
				return s.out.Success(loginView{
					UserID:       s.app.Session.UserID(),
					MergedLines:  guestLines - s.app.Cart.Local().Len(),
					PendingLines: s.app.Cart.Local().Len(),
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (or set "+passwordEnv+")")
	return cmd
}

type loginView struct {
	UserID       string `json:"userId"`
	MergedLines  int    `json:"mergedLines"`
	PendingLines int    `json:"pendingLines"`
}

func (v loginView) String() string {
	msg := "Signed in as " + v.UserID
	if v.MergedLines > 0 {
		msg += fmt.Sprintf("\nMoved %d guest cart line(s) to your account cart", v.MergedLines)
	}
	if v.PendingLines > 0 {
		msg += fmt.Sprintf("\n%d guest cart line(s) could not be merged and were kept on this device", v.PendingLines)
	}
	return msg
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, s *session) error {
				if err := s.app.Logout(ctx); err != nil {
					return err
				}
				return s.out.Success(message("Signed out"))
			})
		},
	}
}

// message is a plain text result.
type message string

func (m message) String() string { return string(m) }

func (m message) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"message": string(m)})
}
