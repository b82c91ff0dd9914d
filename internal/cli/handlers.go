package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/randalmurphal/relay/pkg/relay"
)

// Events served by `relay serve` and `relay demo`.
const (
	EventPing     = "ping"
	EventEcho     = "echo"
	EventSum      = "sum"
	EventAnnounce = "announce"
)

// registerHandlers installs the built-in handlers on m.
func registerHandlers(m *relay.Messenger, logger *slog.Logger) error {
	sum, err := relay.Func(func(nums ...float64) (float64, error) {
		var total float64
		for _, n := range nums {
			total += n
		}
		if math.IsInf(total, 0) {
			return 0, errors.New("sum overflows")
		}
		return total, nil
	})
	if err != nil {
		return err
	}

	handlers := map[string]relay.Handler{
		EventPing: relay.MustFunc(func() string { return "pong" }),
		EventEcho: func(_ context.Context, rc relay.ResponseContext, args relay.Args) error {
			rc.Respond([]any(args))
			return nil
		},
		EventSum: sum,
		EventAnnounce: relay.MustFunc(func(rc relay.ResponseContext, message string) {
			logger.Info("announcement", slog.String("peer", string(rc.Peer())), slog.String("message", message))
		}),
	}
	for event, h := range handlers {
		if _, err := m.On(event, h); err != nil {
			return fmt.Errorf("register %s: %w", event, err)
		}
	}
	return nil
}
