package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/urlfetch/handler"
)

const probeDesc = `
Probe one or more URLs and print whether each is available, its size,
its last modification time and its charset.

The command fails when any URL is unavailable.
`

func newProbeCmd(opts *globalOptions) *cobra.Command {
	var probeTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe URL [URL...]",
		Short: "print metadata about URLs",
		Long:  probeDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := make([]*url.URL, len(args))
			for i, arg := range args {
				u, err := parseURL(arg)
				if err != nil {
					return err
				}
				urls[i] = u
			}

			h, _, err := opts.handler(cmd, urls...)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URL\tAVAILABLE\tSIZE\tLAST MODIFIED\tCHARSET")

			var unavailable int
			for _, u := range urls {
				info := h.Probe(cmd.Context(), u, handler.WithProbeTimeout(probeTimeout))
				if !info.Available {
					unavailable++
					fmt.Fprintf(tw, "%s\tno\t-\t-\t-\n", u.Redacted())
					continue
				}
				fmt.Fprintf(tw, "%s\tyes\t%s\t%s\t%s\n", u.Redacted(), size(info.ContentLength), modified(info.LastModified), info.Charset)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if unavailable > 0 {
				return fmt.Errorf("%d of %d URLs unavailable", unavailable, len(urls))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 30*time.Second, "timeout of each probe, 0 for none")

	return cmd
}

func size(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}

func modified(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	return t.UTC().Format(time.RFC3339)
}
