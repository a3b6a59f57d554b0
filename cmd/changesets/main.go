// Command changesets converts an OpenStreetMap changeset dump into a
// columnar or relational output, and can inventory a dump's tag keys.
//
//	changesets --input changesets-latest.osm.bz2 --output changesets.parquet
//	changesets probe --input changesets-latest.osm.bz2 --limit 100000
//
// Settings are layered: built-in defaults, then the --config file, then
// CHANGESETS_* environment variables (a .env file is honoured), then flags.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	perr "changesets/internal/errors"
	_ "changesets/internal/storage/all"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the outcome to a process exit status.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "changesets: %v\n", err)
		return perr.ExitCode(err)
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "changesets",
		Short:         "Convert an OSM changeset dump to Parquet",
		Long:          "Streams a (compressed) changeset XML dump, projects every changeset to 14 columns and writes them in fixed-size batches.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return perr.Wrap(err, perr.KindConfig, "flags")
	})

	bindConvert(root)
	root.AddCommand(newProbeCmd())

	root.SetGlobalNormalizationFunc(underscoreAlias)
	return root
}

// underscoreAlias accepts --chunk_size for --chunk-size and so on.
func underscoreAlias(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
