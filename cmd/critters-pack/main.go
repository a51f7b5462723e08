package main

import (
	"context"
	"os"

	"github.com/critters-rs/critters-pack/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	opts := cli.NewOptions()
	opts.Version = version
	os.Exit(cli.NewCLI(opts).Run(context.Background(), os.Args[1:]))
}
