// Command stage runs the stager daemon: it services catalog stage
// requests by downloading (or reusing a cached) containing archive,
// extracting the requested entry, and republishing it through the
// storage driver. See spec.md §4.G.
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
	"github.com/dcache-sapphire/smallfiles-packer/internal/stager"
	"github.com/dcache-sapphire/smallfiles-packer/internal/status"
)

const defaultConfigPath = "/etc/dcache/container.conf"

func main() {
	_, _ = maxprocs.Set()

	cmd := &cobra.Command{
		Use:           "stage [config-file]",
		Short:         "Stage individual catalog files out of sealed containers",
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
		fmt.Fprintln(os.Stderr, "stage must run as root")
		os.Exit(2)
	}

	configPath := defaultConfigPath
	if len(args) == 1 {
		configPath = args[0]
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.New(ctx, configPath, app.RoleStage)
	if err != nil {
		return errors.Wrap(err, "initializing stage daemon")
	}
	defer a.Close(ctx)

	cache, err := a.ArchiveCache()
	if err != nil {
		return errors.Wrap(err, "opening archive cache")
	}

	s := stager.New(a.Gateway, cache, a.WebDAV, a.Frontend, a.Config.Common.DriverURL)
	loopDelay := time.Duration(a.Config.Common.LoopDelay) * time.Second

	app.RunLoop(ctx, loopDelay, func(ctx context.Context) error {
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, stager.ErrMacaroonInvalid) {
				return err
			}
			if errors.IsTransient(err) {
				a.Log.Warnf("transient error, retrying next tick: %v", err)
				return nil
			}
			return err
		}
		a.Status.Update(status.Line{Next: time.Now().Add(loopDelay)})
		return nil
	}, func(err error) {
		a.Log.Errorf("stage tick failed: %v", err)
	})

	return nil
}
