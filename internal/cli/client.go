package cli

import (
	"context"
	"fmt"

	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/transport/grpcstream"
)

// connect dials the configured server and returns a messenger on the
// stream. The returned function closes both.
func connect(ctx context.Context, opts *RootOptions) (*relay.Messenger, func(), error) {
	cl, err := grpcstream.Dial(ctx, opts.Settings.Addr, opts.dialOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", opts.Settings.Addr, err)
	}
	m := relay.New(cl, append(relay.SettingsOptions(opts.Settings), relay.WithLogger(opts.Logger))...)
	return m, func() {
		m.Close()
		cl.Close()
	}, nil
}
