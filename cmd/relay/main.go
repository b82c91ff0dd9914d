// Command relay serves and calls request/response handlers over gRPC streams.
package main

import (
	"context"
	"os"

	"github.com/randalmurphal/relay/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
