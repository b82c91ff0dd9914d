package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "call <event> [arg...]",
		Short: "Send one request and print its answer",
		Long: `Call sends a request to a relay server and prints the answer as JSON.

Each argument is used as JSON when it parses as JSON, and as a string
otherwise:

  relay call sum 1 2 3.5
  relay call echo '{"a":1}' hello
  relay call --publish announce "deploy finished"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, closeFn, err := connect(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			event, payload := args[0], parseArgs(args[1:])
			if publish {
				m.Publish(event, payload...)
				return nil
			}

			answer, err := m.Request(ctx, event, payload...)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(answer)
			if err != nil {
				return fmt.Errorf("encode answer: %w", err)
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Result(json.RawMessage(raw), func(w io.Writer) error {
				_, err := fmt.Fprintln(w, string(raw))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "publish without waiting for an answer")
	return cmd
}

// parseArgs turns command line arguments into payload values.
func parseArgs(args []string) []any {
	payload := make([]any, len(args))
	for i, a := range args {
		if json.Valid([]byte(a)) {
			payload[i] = json.RawMessage(a)
			continue
		}
		payload[i] = a
	}
	return payload
}
