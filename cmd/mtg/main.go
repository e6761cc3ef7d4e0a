// Command mtg runs an MTProto FakeTLS proxy.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/mtgrelay/mtgproxy/internal/cli"
)

var version = "dev" //nolint: gochecknoglobals

func main() {
	app := &cli.CLI{}

	ctx := kong.Parse(app,
		kong.Name("mtg"),
		kong.Description("MTProto FakeTLS proxy for Telegram."),
		kong.UsageOnError(),
		kong.Vars{"version": version})

	ctx.FatalIfErrorf(ctx.Run(app, version))
}
