package progress

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Option defines optional settings for ToFile.
type Option func(*options) error

type options struct {
	checksum *checksumVerifier
}

// WithChecksum verifies the written bytes against expected, the
// hex-encoded sum of h.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(opts *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}

		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksumVerifier{hash: h, expected: expected}
		return nil
	}
}

// ToFile streams body to a temp file in the directory of destPath and
// renames it to destPath on success. When contentLength is not
// negative the byte count must match it. On any error the temp file is
// removed.
func ToFile(ctx context.Context, body io.Reader, contentLength int64, destPath string, l Listener, logger *slog.Logger, optFns ...Option) (int64, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return 0, fmt.Errorf("applying option: %w", err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.CreateTemp(filepath.Dir(destPath), ".urlfetch-dl-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	var successful bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("defer closing temp file", "error", err)
		}
		if !successful {
			if err := os.Remove(file.Name()); err != nil {
				logger.Error("failed to remove temp file", "error", err)
			}
		}
	}()

	var writer io.Writer = file
	if opts.checksum != nil {
		writer = io.MultiWriter(writer, opts.checksum)
	}

	n, err := Copy(ctx, writer, body, contentLength, l)
	switch {
	case contentLength >= 0 && errors.Is(err, io.ErrUnexpectedEOF):
		// The connection ended before the advertised length.
		return n, lengthMismatch(contentLength, n)
	case err != nil:
		return n, fmt.Errorf("copying body: %w", err)
	case contentLength >= 0 && n != contentLength:
		return n, lengthMismatch(contentLength, n)
	}

	if err := opts.checksum.Verify(); err != nil {
		return n, err
	}

	if err := file.Sync(); err != nil {
		return n, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), destPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}

	successful = true

	return n, nil
}

func lengthMismatch(expected, got int64) *Error {
	return &Error{
		Err:    ErrContentLengthMismatch,
		Detail: fmt.Sprintf("expected %d bytes, got %d", expected, got),
	}
}

// checksumVerifier hashes everything written to it.
type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func (v *checksumVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

func (v *checksumVerifier) Verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if actual != v.expected {
		return &Error{
			Err:    ErrChecksumMismatch,
			Detail: fmt.Sprintf("expected %s, got %s", v.expected, actual),
		}
	}

	return nil
}
