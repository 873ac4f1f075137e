package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/urlfetch/handler/progress"
)

const getDesc = `
Download a URL to a local file. When DEST is omitted the last path
segment of the URL is used.

With --sha256 the download is verified and discarded on mismatch.
`

// verifier is implemented by handlers that can check a download.
type verifier interface {
	DownloadVerified(ctx context.Context, src *url.URL, dest string, l progress.Listener, opts ...progress.Option) error
}

var errNoVerifier = errors.New("handler cannot verify downloads")

func newGetCmd(opts *globalOptions) *cobra.Command {
	var checksum string

	cmd := &cobra.Command{
		Use:   "get URL [DEST]",
		Short: "download a URL to a file",
		Long:  getDesc,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseURL(args[0])
			if err != nil {
				return err
			}

			dest := path.Base(u.Path)
			if len(args) == 2 {
				dest = args[1]
			}
			if dest == "" || dest == "/" || dest == "." {
				return fmt.Errorf("cannot derive a file name from %s, pass DEST", u.Redacted())
			}

			h, logger, err := opts.handler(cmd, u)
			if err != nil {
				return err
			}
			l := opts.listener(logger, dest)

			if checksum != "" {
				v, ok := h.(verifier)
				if !ok {
					return errNoVerifier
				}
				err = v.DownloadVerified(cmd.Context(), u, dest, l, progress.WithChecksum(sha256.New(), checksum))
			} else {
				err = h.Download(cmd.Context(), u, dest, l)
			}
			if err != nil {
				return err
			}

			fi, err := os.Stat(dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", u.Redacted(), dest, humanize.Bytes(uint64(fi.Size())))

			return nil
		},
	}

	cmd.Flags().StringVar(&checksum, "sha256", "", "expected SHA-256 of the downloaded file, hex encoded")

	return cmd
}
