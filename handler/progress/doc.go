// Package progress copies transfer bodies while reporting how far the
// copy has got.
//
// # Listening
//
// A [Listener] receives a Start event, one Progress event per buffer
// and an End event:
//
//	l := progress.ListenerFunc(func(e progress.Event) {
//		fmt.Printf("%s %d/%d\n", e.Kind, e.ReadBytes, e.TotalLength)
//	})
//
// [LogListener] logs the same events through slog at most once per
// second.
//
// # Writing Files
//
// [ToFile] writes a body to a temporary file next to the destination
// and renames it into place only after the byte count and the optional
// checksum have been verified. On failure no partial file is left
// behind:
//
//	n, err := progress.ToFile(ctx, body, contentLength, "/tmp/file.bin", l, logger,
//		progress.WithChecksum(sha256.New(), expectedHex),
//	)
package progress
