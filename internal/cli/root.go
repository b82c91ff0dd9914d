// Package cli implements the relay command.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/randalmurphal/relay/pkg/relay/config"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

// RootOptions holds global flags for all commands and what
// PersistentPreRunE derives from them.
type RootOptions struct {
	ConfigPath string
	LogLevel   string // overrides the configured level when set
	Format     string // "text" | "json"

	Settings config.Settings
	Logger   *slog.Logger

	// dialOptions are appended to every client dial.
	dialOptions []grpc.DialOption
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the relay CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Request/response messaging over one-way event streams",
		Long: `relay correlates requests and answers over transports that can only emit
named events one way. It serves a gRPC stream endpoint, calls remote
handlers, and inspects failed handler invocations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			settings, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			if opts.LogLevel != "" {
				if _, err := config.ParseLevel(opts.LogLevel); err != nil {
					return err
				}
				settings.LogLevel = opts.LogLevel
			}
			opts.Settings = settings
			opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: settings.SlogLevel(),
			}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (yaml or json)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewDeadLetterCommand(opts))

	return cmd
}
