package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

const putDesc = `
Upload a local file to a URL with an HTTP PUT. Only http and https URLs
accept uploads.
`

func newPutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put FILE URL",
		Short: "upload a file to a URL",
		Long:  putDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseURL(args[1])
			if err != nil {
				return err
			}

			h, logger, err := opts.handler(cmd, u)
			if err != nil {
				return err
			}

			if err := h.Upload(cmd.Context(), args[0], u, opts.listener(logger, filepath.Base(args[0]))); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], u.Redacted())
			return nil
		},
	}
}
