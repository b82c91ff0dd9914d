package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randalmurphal/relay/internal/telemetry"
	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/config"
	"github.com/randalmurphal/relay/pkg/relay/deadletter"
	"github.com/randalmurphal/relay/pkg/relay/transport/grpcstream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// memoryDeadLetters bounds the in-memory journal used without a dead-letter path.
	memoryDeadLetters = 1000

	// shutdownGrace bounds the wait for asynchronous handlers on exit.
	shutdownGrace = 5 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the built-in handlers over gRPC",
		Long: `Serve listens for relay streams and answers the built-in events
(ping, echo, sum, announce) until interrupted. Failed handler invocations
are written to the dead-letter journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				rootOpts.Settings.Addr = addr
			}
			lis, err := net.Listen("tcp", rootOpts.Settings.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", rootOpts.Settings.Addr, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rootOpts, lis)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides settings)")
	return cmd
}

// serve runs the relay server on lis until ctx is done.
func serve(ctx context.Context, opts *RootOptions, lis net.Listener) error {
	logger := opts.Logger

	providers, err := telemetry.Setup(ctx, "relay", opts.Settings)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := openDeadLetters(opts.Settings)
	if err != nil {
		return err
	}
	defer store.Close()

	transport := grpcstream.NewServer(
		grpcstream.WithLogger(logger),
		grpcstream.WithBufferSize(opts.Settings.BufferSize),
	)
	gs := grpcstream.NewGRPCServer(transport)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcstream.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	m := relay.New(transport, append(relay.SettingsOptions(opts.Settings),
		relay.WithLogger(logger),
		relay.WithDeadLetter(store),
	)...)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			logger.Warn("handlers still running at shutdown", slog.String("error", err.Error()))
		}
	}()

	if err := registerHandlers(m, logger); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay server listening", slog.String("addr", lis.Addr().String()))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("relay server stopping")
		healthServer.Shutdown()
		transport.Close()
		gs.GracefulStop()
		return nil
	})
	return g.Wait()
}

// openDeadLetters opens the SQLite journal at s.DeadLetterPath, or an
// in-memory one when no path is set.
func openDeadLetters(s config.Settings) (deadletter.Store, error) {
	if s.DeadLetterPath == "" {
		return deadletter.NewMemoryStore(memoryDeadLetters), nil
	}
	store, err := deadletter.NewSQLiteStore(s.DeadLetterPath)
	if err != nil {
		return nil, fmt.Errorf("open dead letters: %w", err)
	}
	return store, nil
}
