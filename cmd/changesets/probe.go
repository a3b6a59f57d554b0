package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"changesets/internal/config"
	"changesets/internal/datasource"
	perr "changesets/internal/errors"
	"changesets/internal/etl"
	"changesets/internal/inspect"
)

func newProbeCmd() *cobra.Command {
	var (
		input       string
		compression string
		opt         inspect.Options
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Inventory the tag keys and attributes of a changeset dump",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(input) == "" {
				return perr.Configf("--input is required")
			}
			codec, err := datasource.ParseCodec(compression)
			if err != nil {
				return err
			}
			in, err := datasource.Open(cmd.Context(), etl.SourceFor(input), codec)
			if err != nil {
				return err
			}
			defer in.Close()

			rep, err := inspect.Probe(cmd.Context(), in, opt)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&input, "input", "i", "", "input dump: local path or http(s) URL")
	fs.StringVar(&compression, "compression", config.DefaultCompression, "input compression")
	fs.Int64Var(&opt.Limit, "limit", 0, "stop after N changesets (0 = all)")
	fs.IntVar(&opt.MaxExamples, "max-examples", 3, "distinct example values kept per key")
	fs.BoolVar(&opt.Strict, "strict", false, "fail on malformed or truncated input")
	return cmd
}
