package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// BufferSize is the size of the copy buffer.
const BufferSize = 64 << 10 // 64KB

// Kind identifies a copy event.
type Kind int

const (
	Start Kind = iota
	Progress
	End
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Progress:
		return "progress"
	case End:
		return "end"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event reports the state of a copy. Buffer holds the bytes of the
// last read for Progress events and is only valid during the call.
// TotalLength is -1 when unknown.
type Event struct {
	Kind        Kind
	Buffer      []byte
	ReadBytes   int64
	TotalLength int64
}

// Listener receives copy events.
type Listener interface {
	Progress(Event)
}

// ListenerFunc adapts an ordinary function to a Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Progress(e Event) { f(e) }

// Copy copies src to dst through a BufferSize buffer, reporting to l,
// which may be nil. total is passed through to the events.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, total int64, l Listener) (int64, error) {
	if l == nil {
		l = ListenerFunc(func(Event) {})
	}

	src = &contextReader{ctx: ctx, r: src}
	buf := make([]byte, BufferSize)

	l.Progress(Event{Kind: Start, TotalLength: total})

	var read int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return read, fmt.Errorf("writing: %w", err)
			}
			read += int64(n)
			l.Progress(Event{Kind: Progress, Buffer: buf[:n], ReadBytes: read, TotalLength: total})
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if errors.Is(rerr, context.Canceled) || errors.Is(rerr, context.DeadlineExceeded) {
				return read, fmt.Errorf("%w: %w", ErrCancelled, rerr)
			}
			return read, fmt.Errorf("reading: %w", rerr)
		}
	}

	l.Progress(Event{Kind: End, ReadBytes: read, TotalLength: total})

	return read, nil
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.r.Read(p)
}

// LogListener logs copy progress at most once per second, plus the
// start and end of the copy.
type LogListener struct {
	Logger *slog.Logger
	Name   string

	mu        sync.Mutex
	startTime time.Time
	lastLog   time.Time
}

func (ll *LogListener) Progress(e Event) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	switch e.Kind {
	case Start:
		ll.startTime = time.Now()
		ll.lastLog = ll.startTime
		ll.logger().Info("transfer started", "name", ll.Name, "total", size(e.TotalLength))
	case Progress:
		if time.Since(ll.lastLog) >= time.Second {
			ll.lastLog = time.Now()
			ll.log("transferring", e)
		}
	case End:
		ll.log("transfer complete", e)
	}
}

func (ll *LogListener) log(msg string, e Event) {
	elapsed := time.Since(ll.startTime)
	attrs := []any{
		"name", ll.Name,
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", humanize.Bytes(uint64(e.ReadBytes)),
		"total", size(e.TotalLength),
	}
	if e.TotalLength > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(e.ReadBytes)/float64(e.TotalLength)*100))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		attrs = append(attrs, "rate", humanize.Bytes(uint64(float64(e.ReadBytes)/secs))+"/s")
	}

	ll.logger().Info(msg, attrs...)
}

func (ll *LogListener) logger() *slog.Logger {
	if ll.Logger == nil {
		return slog.Default()
	}

	return ll.Logger
}

func size(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}

// Body reports the transmission of a request body the transport may
// send more than once, as it does after an authentication challenge.
// Each transmission reads through its own [Body.Attempt] and restarts
// the byte count. Start is sent by the first read of any attempt and
// End only by Finish, so a resent body still reports a single Start and
// End.
type Body struct {
	total int64
	l     Listener

	mu      sync.Mutex
	started bool
	ended   bool
	read    int64
}

// NewBody returns a Body of total bytes. l may be nil.
func NewBody(total int64, l Listener) *Body {
	if l == nil {
		l = ListenerFunc(func(Event) {})
	}

	return &Body{total: total, l: l}
}

// Attempt wraps r for one transmission of the body.
func (b *Body) Attempt(ctx context.Context, r io.Reader) io.Reader {
	return &attempt{b: b, r: &contextReader{ctx: ctx, r: r}}
}

// Finish sends End with the byte count of the last attempt, preceded by
// Start when nothing was read. Later calls do nothing.
func (b *Body) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}
	if !b.started {
		b.started = true
		b.l.Progress(Event{Kind: Start, TotalLength: b.total})
	}
	b.ended = true
	b.l.Progress(Event{Kind: End, ReadBytes: b.read, TotalLength: b.total})
}

// ReadBytes returns the number of bytes read by the last attempt.
func (b *Body) ReadBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.read
}

func (b *Body) report(p []byte, read int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.started = true
		b.l.Progress(Event{Kind: Start, TotalLength: b.total})
	}
	if len(p) == 0 || b.ended {
		return
	}

	b.read = read
	b.l.Progress(Event{Kind: Progress, Buffer: p, ReadBytes: read, TotalLength: b.total})
}

type attempt struct {
	b    *Body
	r    io.Reader
	read int64
}

func (a *attempt) Read(p []byte) (int, error) {
	if a.read == 0 {
		a.b.report(nil, 0)
	}

	n, err := a.r.Read(p)
	if n > 0 {
		a.read += int64(n)
		a.b.report(p[:n], a.read)
	}

	return n, err
}
