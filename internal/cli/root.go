// Package cli implements the fasket command: a terminal storefront over the
// storefront client. Every invocation opens the client state file, runs one
// operation and closes it again, so guest carts, sessions and pending
// checkout keys carry over between invocations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/checkout"
	"github.com/Mnabil10/fasketPWA-sub000/internal/config"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
	"github.com/Mnabil10/fasketPWA-sub000/internal/storefront"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DBPath     string
	APIURL     string
	Locale     string
	Metrics    bool

	// KeyGenerator overrides the checkout idempotency key generator (for testing).
	// If nil, the client uses UUIDv7 keys.
	KeyGenerator checkout.KeyGenerator
	// Online overrides the connectivity check (for testing).
	Online func() bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the fasket command.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the fasket command around opts. Flags
// parsed from the command line overwrite the matching fields.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fasket",
		Short: "Fasket storefront client",
		Long: `Shop the Fasket grocery storefront from the terminal.

Guest carts live on this device until you log in; the first login merges
them into your account cart. Checkout retries reuse the same idempotency
key, so a retried order is never placed twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "client state file (overrides storage.path)")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", "", "API base URL (overrides api.base_url)")
	cmd.PersistentFlags().StringVar(&opts.Locale, "locale", "", "message locale, en or ar (overrides locale)")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "print client metrics to stderr after the command")

	cmd.AddCommand(NewCartCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewQuoteCommand(opts))
	cmd.AddCommand(NewCheckoutCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// session is one command invocation against an open App.
type session struct {
	app *storefront.App
	out *OutputFormatter
}

func (s *session) locale() string {
	return s.app.Config.Locale
}

// fail reports err and returns the ExitError for it.
func (s *session) fail(err error) error {
	return s.out.Fail(err, s.locale())
}

// withApp loads the configuration, opens the client and runs fn. Errors
// returned by fn that are not already ExitErrors are reported as storefront
// failures.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = out.Error("CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, err := logging.New(cfg.Log.Env, cfg.Log.Level, opts.Verbose)
	if err != nil {
		_ = out.Error("CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	defer func() { _ = logger.Sync() }()

	var collector *metrics.Collector
	if opts.Metrics {
		collector = metrics.NewCollector()
	}

	appOpts := []storefront.Option{
		storefront.WithLogger(logger),
		storefront.WithMetrics(collector),
	}
	if opts.KeyGenerator != nil {
		appOpts = append(appOpts, storefront.WithKeyGenerator(opts.KeyGenerator))
	}
	if opts.Online != nil {
		appOpts = append(appOpts, storefront.WithConnectivity(opts.Online))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out.VerboseLog("opening client state %s", cfg.Storage.Path)
	app, err := storefront.New(ctx, *cfg, appOpts...)
	if err != nil {
		_ = out.Error("STORAGE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open client state", err)
	}

	s := &session{app: app, out: out}
	runErr := s.restoreSelection(ctx)
	if runErr == nil {
		runErr = fn(ctx, s)
	}
	if closeErr := app.Close(); closeErr != nil {
		out.VerboseLog("closing client state: %v", closeErr)
	}

	if opts.Metrics {
		if err := collector.WriteText(out.GetErrWriter()); err != nil {
			out.VerboseLog("writing metrics: %v", err)
		}
	}

	if runErr == nil {
		return nil
	}
	if _, ok := runErr.(*ExitError); ok {
		return runErr
	}
	if !isStorefrontError(runErr) {
		_ = out.Error("CLIENT", runErr.Error(), nil)
		return WrapExitError(ExitCommandError, "client error", runErr)
	}
	return s.fail(runErr)
}

// isStorefrontError reports whether err came out of the request pipeline or
// a client-side precondition, as opposed to local state or usage problems.
func isStorefrontError(err error) bool {
	var apiErr *apierr.Error
	var vErr *apierr.ValidationError
	return errors.As(err, &apiErr) || errors.As(err, &vErr)
}

// usageError reports a command misuse detected after the client was opened.
func (s *session) usageError(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	_ = s.out.Error("USAGE", msg, nil)
	return WrapExitError(ExitCommandError, msg, nil)
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.Storage.Path = opts.DBPath
	}
	if opts.APIURL != "" {
		cfg.API.BaseURL = opts.APIURL
	}
	if opts.Locale != "" {
		cfg.Locale = opts.Locale
	}
	if err := config.Validate(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
