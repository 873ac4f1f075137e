package main

import (
	"io"

	"github.com/spf13/cobra"
)

func newCatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat URL",
		Short: "print the decoded body of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseURL(args[0])
			if err != nil {
				return err
			}

			h, _, err := opts.handler(cmd, u)
			if err != nil {
				return err
			}

			rc, err := h.OpenStream(cmd.Context(), u)
			if err != nil {
				return err
			}
			defer rc.Close()

			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
}
