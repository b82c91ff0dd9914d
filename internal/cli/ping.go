package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/spf13/cobra"
)

// PingResult is the outcome of one ping.
type PingResult struct {
	Seq    int           `json:"seq"`
	Answer string        `json:"answer,omitempty"`
	RTT    time.Duration `json:"rtt_ns"`
	Error  string        `json:"error,omitempty"`
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure request round trips to a relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, closeFn, err := connect(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			results := make([]PingResult, 0, count)
			failed := 0
			for seq := 1; seq <= count; seq++ {
				if seq > 1 && interval > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(interval):
					}
				}

				start := time.Now()
				answer, err := relay.SendAs[string](ctx, m, EventPing)
				r := PingResult{Seq: seq, Answer: answer, RTT: time.Since(start)}
				if err != nil {
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
			}

			err = newFormatter(rootOpts, cmd.OutOrStdout()).Result(results, func(w io.Writer) error {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(w, "seq=%d error: %s\n", r.Seq, r.Error)
						continue
					}
					fmt.Fprintf(w, "seq=%d %s rtt=%s\n", r.Seq, r.Answer, r.RTT.Round(time.Microsecond))
				}
				return nil
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pings failed", failed, count)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of pings")
	cmd.Flags().DurationVar(&interval, "interval", 0, "wait between pings")
	return cmd
}
