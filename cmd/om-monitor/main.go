// Command om-monitor runs the real-time serial crystallography monitor.
//
// Usage: om-monitor SOURCE [-i CONFIG]
//
// SOURCE is interpreted by the configured data retrieval layer (a file
// list path, an online stream descriptor, ...). The monitor reduces every
// detector frame, tracks hit and saturation rates, and publishes tagged
// results for remote viewers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/banshee-data/bragg.report/internal/conf"
	"github.com/banshee-data/bragg.report/internal/monitoring"
	"github.com/banshee-data/bragg.report/internal/om/engine"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
	"github.com/banshee-data/bragg.report/internal/version"
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("om-monitor %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	}

	app := &cli.App{
		Name:      "om-monitor",
		Usage:     "real-time data analysis for serial x-ray crystallography",
		Version:   version.Version,
		ArgsUsage: "SOURCE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "ini",
				Aliases: []string{"i"},
				Value:   "monitor.toml",
				Usage:   "monitor configuration file",
			},
		},
		HideHelpCommand: true,
		Action:          run,
	}

	if err := app.Run(os.Args); err != nil {
		exitWithError(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return omerr.New(omerr.KindConfig, "exactly one SOURCE argument is required")
	}
	src := c.Args().First()

	params, err := conf.Load(c.String("ini"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitoring.Logf("monitor run %s starting on source %s", uuid.NewString(), src)

	monitor, err := engine.NewCrystallographyMonitor(ctx, src, params)
	if err != nil {
		return err
	}
	return monitor.Run(ctx)
}

// exitWithError prints a one-line diagnostic for classified errors and the
// full error chain for unexpected ones, then exits nonzero.
func exitWithError(err error) {
	if kind := omerr.KindOf(err); kind != omerr.KindUnknown {
		fmt.Fprintf(os.Stderr, "%s: %v\n", kind, err)
	} else {
		fmt.Fprintf(os.Stderr, "unexpected error: %+v\n", err)
	}
	os.Exit(1)
}
