// Package fetcher pumps bytes from a worker's output descriptor through a
// splitter.Splitter and retains the tail of recent lines in a bounded ring
// for post-mortem inspection, asynchronously and with a bounded memory
// footprint.
package fetcher

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"noded/internal/splitter"
)

// maxPendingBytes bounds unbounded buffer growth in the splitter when a
// worker writes a very long line without a newline.
const maxPendingBytes = 1 << 20 // 1 MiB

// Fetcher reads lines from a worker's stdout descriptor asynchronously and
// keeps the most recent ones in a ring buffer.
type Fetcher struct {
	// OnLine, if set, is invoked for every complete line as it is yielded,
	// before it is pushed into the ring. Used by the slave to forward
	// tagged lines to the structured logger.
	OnLine func(line string)
	// OnError is invoked at most once, for the first non-EOF,
	// non-cancellation read error.
	OnError func(err error)

	mu       sync.Mutex
	ring     []string
	ringHead int
	ringLen  int
	ringCap  int

	cancel context.CancelFunc
	done   chan struct{}
}

// Run begins reading r on a background goroutine until r returns an error,
// EOF, or the Fetcher is stopped. ringCapacity bounds the number of most
// recent lines retained by Tail.
func (f *Fetcher) Run(ctx context.Context, r io.Reader, ringCapacity int) {
	if ringCapacity <= 0 {
		ringCapacity = 100
	}
	f.mu.Lock()
	f.ringCap = ringCapacity
	f.ring = make([]string, ringCapacity)
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	if closer, ok := r.(io.Closer); ok {
		go func() {
			<-ctx.Done()
			closer.Close()
		}()
	}

	go f.pump(ctx, r)
}

func (f *Fetcher) pump(ctx context.Context, r io.Reader) {
	defer close(f.done)

	var split splitter.Splitter
	buf := make([]byte, 32*1024)
	br := bufio.NewReaderSize(r, len(buf))

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := br.Read(buf)
		if n > 0 {
			split.Consume(buf[:n])
			for {
				line, ok := split.Next()
				if !ok {
					break
				}
				f.push(line)
			}
			if split.Pending() > maxPendingBytes {
				split.Reset()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			if f.OnError != nil {
				f.OnError(err)
			}
			return
		}
	}
}

func (f *Fetcher) push(line string) {
	if f.OnLine != nil {
		f.OnLine(line)
	}
	f.mu.Lock()
	if f.ringCap > 0 {
		idx := (f.ringHead + f.ringLen) % f.ringCap
		f.ring[idx] = line
		if f.ringLen < f.ringCap {
			f.ringLen++
		} else {
			f.ringHead = (f.ringHead + 1) % f.ringCap
		}
	}
	f.mu.Unlock()
}

// Stop cancels any pending read. Idempotent; safe to call more than once
// and safe to call before Run.
func (f *Fetcher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// Tail returns a snapshot of the ring buffer's current contents, oldest
// line first.
func (f *Fetcher) Tail() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, f.ringLen)
	for i := 0; i < f.ringLen; i++ {
		out[i] = f.ring[(f.ringHead+i)%f.ringCap]
	}
	return out
}
