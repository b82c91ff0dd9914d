package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/randalmurphal/relay/internal/telemetry"
	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/deadletter"
	"github.com/randalmurphal/relay/pkg/relay/transport/local"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// DemoResult summarizes a demo run.
type DemoResult struct {
	Requests    int           `json:"requests"`
	Answered    int           `json:"answered"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	DeadLetters int           `json:"dead_letters"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		requests    int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run concurrent requests against in-process handlers",
		Long: `Demo connects two messengers over an in-process transport, sends
concurrent sum requests, and reports how many were answered. One request
carries a bad argument so the dead-letter journal has an entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			providers, err := telemetry.Setup(ctx, "relay-demo", rootOpts.Settings)
			if err != nil {
				return fmt.Errorf("setup telemetry: %w", err)
			}
			defer providers.Shutdown(context.Background())

			res, err := runDemo(ctx, rootOpts, requests, concurrency)
			if err != nil {
				return err
			}

			return newFormatter(rootOpts, cmd.OutOrStdout()).Result(res, func(w io.Writer) error {
				fmt.Fprintf(w, "%d/%d requests answered in %s\n", res.Answered, res.Requests, res.Elapsed.Round(time.Microsecond))
				fmt.Fprintf(w, "dead letters: %d\n", res.DeadLetters)
				if providers.Metrics != nil {
					return telemetry.WriteSummary(ctx, w, providers.Metrics)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&requests, "requests", "n", 100, "number of requests")
	cmd.Flags().IntVar(&concurrency, "concurrency", 16, "requests in flight at once")
	return cmd
}

func runDemo(ctx context.Context, opts *RootOptions, requests, concurrency int) (DemoResult, error) {
	a, b := local.NewPair(local.Config{BufferSize: opts.Settings.BufferSize})
	defer a.Close()
	defer b.Close()

	store := deadletter.NewMemoryStore(memoryDeadLetters)
	base := append(relay.SettingsOptions(opts.Settings), relay.WithLogger(opts.Logger))

	server := relay.New(b, append(slices.Clone(base), relay.WithDeadLetter(store), relay.WithAsyncHandlers(true))...)
	defer server.Close()
	if err := registerHandlers(server, opts.Logger); err != nil {
		return DemoResult{}, err
	}

	client := relay.New(a, base...)
	defer client.Close()

	res := DemoResult{Requests: requests}
	answered := make(chan struct{}, requests)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range requests {
		g.Go(func() error {
			got, err := relay.SendAs[float64](gctx, client, EventSum, float64(i), float64(i))
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			if got != float64(2*i) {
				return fmt.Errorf("request %d: got %v, want %d", i, got, 2*i)
			}
			answered <- struct{}{}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.Elapsed = time.Since(start)
	res.Answered = len(answered)

	// A string where sum wants numbers fails in the handler and is journaled.
	client.Publish(EventSum, "not a number")
	client.Publish(EventAnnounce, fmt.Sprintf("demo answered %d requests", res.Answered))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := store.Count(ctx)
		if err != nil {
			return res, err
		}
		if n > 0 {
			res.DeadLetters = n
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return res, nil
}
