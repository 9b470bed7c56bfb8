// Command writebfids is a one-shot reconciliation tool, not one of the
// three always-on roles: it re-stamps archiveUrl/state for every
// outstanding archive record by unconditionally re-uploading and
// re-HEADing each container, useful after a catalog restore loses BFID
// metadata. See spec.md (expanded) §4.H.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcache-sapphire/smallfiles-packer/internal/app"
	"github.com/dcache-sapphire/smallfiles-packer/internal/bfidwriter"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

const defaultConfigPath = "/etc/dcache/container.conf"

func main() {
	cmd := &cobra.Command{
		Use:           "writebfids [config-file]",
		Short:         "Re-stamp archiveUrl/state for every outstanding archive",
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
		fmt.Fprintln(os.Stderr, "writebfids must run as root")
		os.Exit(2)
	}

	configPath := defaultConfigPath
	if len(args) == 1 {
		configPath = args[0]
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.New(ctx, configPath, app.RoleWritebfids)
	if err != nil {
		return errors.Wrap(err, "initializing writebfids")
	}
	defer a.Close(ctx)

	w := bfidwriter.New(a.Gateway, a.WebDAV)
	if err := w.Run(ctx); err != nil {
		return err
	}
	return nil
}
