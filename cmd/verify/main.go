// Command verify runs the verifier daemon: it uploads sealed containers
// to the WebDAV door, compares digests, and promotes cross-checked file
// records to verified once the remote copy is confirmed. See spec.md
// §4.F. An upload that never succeeds is treated as requiring operator
// intervention: the process exits non-zero rather than looping forever.
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
	"github.com/dcache-sapphire/smallfiles-packer/internal/status"
	"github.com/dcache-sapphire/smallfiles-packer/internal/verifier"
)

const defaultConfigPath = "/etc/dcache/container.conf"

func main() {
	_, _ = maxprocs.Set()

	cmd := &cobra.Command{
		Use:           "verify [config-file]",
		Short:         "Upload sealed containers and promote verified files",
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
		fmt.Fprintln(os.Stderr, "verify must run as root")
		os.Exit(2)
	}

	configPath := defaultConfigPath
	if len(args) == 1 {
		configPath = args[0]
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.New(ctx, configPath, app.RoleVerify)
	if err != nil {
		return errors.Wrap(err, "initializing verify daemon")
	}
	defer a.Close(ctx)

	v := verifier.New(a.Gateway, a.WebDAV)
	loopDelay := time.Duration(a.Config.Common.LoopDelay) * time.Second

	exitCode := 0
	app.RunLoop(ctx, loopDelay, func(ctx context.Context) error {
		if err := v.Tick(ctx); err != nil {
			if errors.Is(err, verifier.ErrUploadFailed) {
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
		a.Log.Errorf("verify tick failed, operator intervention required: %v", err)
		exitCode = 1
		cancel()
	})

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
