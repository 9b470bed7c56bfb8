// Command pack runs the group-packer daemon: it selects candidate files
// from the catalog per group, accumulates them into sealed ZIP64
// containers, and hands sealed containers off for the verifier to upload.
// See spec.md §4.E.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dcache-sapphire/smallfiles-packer/internal/app"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/packer"
	"github.com/dcache-sapphire/smallfiles-packer/internal/status"
)

const defaultConfigPath = "/etc/dcache/container.conf"

func main() {
	_, _ = maxprocs.Set()

	cmd := &cobra.Command{
		Use:           "pack [config-file]",
		Short:         "Pack small catalog files into sealed containers",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          run,
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "pack must run as root")
		os.Exit(2)
	}

	configPath := defaultConfigPath
	if len(args) == 1 {
		configPath = args[0]
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.New(ctx, configPath, app.RolePack)
	if err != nil {
		return errors.Wrap(err, "initializing pack daemon")
	}
	defer a.Close(ctx)

	packers := make([]*packer.Packer, len(a.Config.Groups))
	for i, g := range a.Config.Groups {
		packers[i] = packer.New(g, packer.WrapGateway(a.Gateway), a.Fetcher, a.Config.Common.WorkingDir, a.Config.Common.ScriptID, nowUnix)
	}

	loopDelay := time.Duration(a.Config.Common.LoopDelay) * time.Second

	app.RunLoop(ctx, loopDelay, func(ctx context.Context) error {
		for _, p := range packers {
			if ctx.Err() != nil {
				return nil
			}
			if err := p.Tick(ctx); err != nil {
				if errors.IsTransient(err) {
					a.Log.Warnf("transient error, retrying next tick: %v", err)
					continue
				}
				return err
			}
		}
		a.Status.Update(status.Line{Next: time.Now().Add(loopDelay)})
		return nil
	}, func(err error) {
		a.Log.Errorf("pack tick failed: %v", err)
	})

	return nil
}

func nowUnix() int64 { return time.Now().Unix() }
