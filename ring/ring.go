// Package ring implements the single-producer, multi-consumer shared-memory
// log connecting the RunEngine to format writers (§4.8, C8).
//
// The backing region and atomic cursor-publication discipline generalize
// internal/resources.Manager's checkpointLoop (internal/resources/manager.go:
// a single background goroutine appending to a bounded channel, observed by
// one consumer) from a single checkpoint-file writer to a full multi-writer
// ring with per-consumer overflow policy. The physical byte region is
// optionally backed by an mmap'd file via golang.org/x/sys/unix (see
// mmap_linux.go), matching the raw mmap'd I/O style used for block-device
// buffers in other low-level Go I/O code.
package ring

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/easternanemone/rudaq/rudaqerr"
	"github.com/easternanemone/rudaq/telemetry/metrics"
)

// OverflowPolicy governs what a consumer does when it discovers it has
// fallen behind the producer by more than the ring's capacity (i.e. the
// producer has already overwritten data the consumer had not yet read).
type OverflowPolicy int

const (
	// OverflowDropOldest skips the consumer's read cursor forward to the
	// oldest entry still physically present, incrementing its overflow
	// counter. Suited to GUI-style real-time views (§4.8).
	OverflowDropOldest OverflowPolicy = iota
	// OverflowBlockProducer never lets the producer overwrite data this
	// consumer has not yet read: Write blocks until the slowest
	// block-producer consumer has caught up. Required for persistent
	// storage writers.
	OverflowBlockProducer
	// OverflowResize is a best-effort policy: on overflow the ring doubles
	// its capacity (bounded by a configured memory ceiling) instead of
	// either dropping or blocking. Falls back to OverflowDropOldest once
	// the ceiling is reached.
	OverflowResize
)

const headerSize = 24 // length(4) + kind(1) + pad(3) + seq(8) + epoch(8)

// wrapMarker is the sentinel Length value written as a padding record when
// an entry does not fit before the physical end of the backing region; the
// reader, seeing it, wraps to physical offset 0 without interpreting it as
// data.
const wrapMarker = 0xFFFFFFFF

// Entry is one record as returned to a consumer.
type Entry struct {
	Offset        int64 // logical (monotonic, never wraps) byte offset
	Length        int
	Kind          byte
	Seq           uint64
	ProducerEpoch uint64
	Payload       []byte
}

// Config bounds a Buffer's resource usage and overflow behavior.
type Config struct {
	CapacityBytes  int64
	OverflowPolicy OverflowPolicy // default policy for consumers that don't override
	BackingPath    string         // empty: anonymous in-process backing
	MaxCapacityBytes int64        // ceiling for OverflowResize; 0 = no growth
}

// Buffer is the shared-memory ring (§3 "Ring entry", §4.8). Construct with
// Open; call Close to release any mmap'd backing file.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data     []byte
	capacity int64
	maxCap   int64
	policy   OverflowPolicy

	writeCursor int64 // logical, monotonic
	epoch       atomic.Uint64
	nextSeq     atomic.Uint64

	consumers map[string]*consumerState
	backing   backing // nil for anonymous buffers
	metrics   *metrics.Recorder
}

// SetMetrics attaches a Recorder that every consumer overflow reports its
// cumulative count to. Passing nil detaches metrics recording.
func (b *Buffer) SetMetrics(r *metrics.Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = r
}

type consumerState struct {
	name       string
	policy     OverflowPolicy
	readCursor int64 // logical
	overflow   atomic.Uint64
}

// backing abstracts the optional mmap'd file backing (see mmap_linux.go);
// Close releases it.
type backing interface {
	Close() error
}

// Open constructs a Buffer. A zero CapacityBytes defaults to 16MiB.
func Open(cfg Config) (*Buffer, error) {
	cap := cfg.CapacityBytes
	if cap <= 0 {
		cap = 16 << 20
	}
	b := &Buffer{
		capacity:  cap,
		maxCap:    cfg.MaxCapacityBytes,
		policy:    cfg.OverflowPolicy,
		consumers: make(map[string]*consumerState),
	}
	b.cond = sync.NewCond(&b.mu)

	if cfg.BackingPath != "" {
		data, bk, err := openMmap(cfg.BackingPath, cap)
		if err != nil {
			return nil, rudaqerr.Invariant("ring.Open", err)
		}
		b.data = data
		b.backing = bk
	} else {
		b.data = make([]byte, cap)
	}
	return b, nil
}

// Close releases the backing region. On a file-backed ring this removes the
// mmap mapping (but not the file itself — callers created BackingPath and
// own its lifecycle when a backing_path is configured).
func (b *Buffer) Close() error {
	if b.backing != nil {
		return b.backing.Close()
	}
	return nil
}

// RegisterConsumer attaches a new reader named name (a writer identity,
// e.g. "hdf5-writer-0"), starting at the current write cursor (consumers
// never see history predating their registration) with the given overflow
// policy.
func (b *Buffer) RegisterConsumer(name string, policy OverflowPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.consumers[name]; exists {
		// Re-registering an already-known consumer (e.g. a writer
		// reconnecting) preserves its read cursor rather than skipping it
		// back to "only new data".
		return
	}
	b.consumers[name] = &consumerState{name: name, policy: policy, readCursor: b.writeCursor}
}

// UnregisterConsumer removes a consumer, freeing any producer backpressure
// that was waiting on it.
func (b *Buffer) UnregisterConsumer(name string) {
	b.mu.Lock()
	delete(b.consumers, name)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Write appends one entry of kind/payload, blocking (respecting ctx) if any
// OverflowBlockProducer consumer would otherwise lose unread data. Returns
// the committed Entry including its assigned seq and logical offset.
func (b *Buffer) Write(ctx context.Context, kind byte, payload []byte) (Entry, error) {
	needed := int64(headerSize + len(payload))
	if needed > b.capacity {
		return Entry{}, rudaqerr.Invariant("ring.Write", errEntryTooLarge)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return Entry{}, rudaqerr.Cancellation("ring.Write", err)
		}
		if b.roomLocked(needed) {
			break
		}
		if b.policy == OverflowResize {
			if b.tryGrowLocked(needed) {
				continue
			}
		}
		if !b.hasBlockingConsumerLocked() {
			break // no one is enforcing backpressure; proceed and let drop-oldest consumers skip ahead
		}
		// A watcher goroutine wakes this Wait on ctx cancellation.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.cond.Broadcast()
			case <-done:
			}
		}()
		b.cond.Wait()
		close(done)
	}

	seq := b.nextSeq.Add(1) - 1
	epoch := b.epoch.Load()
	offset := b.writeCursor

	physOff := b.writeCursor % b.capacity
	if physOff+needed > b.capacity {
		// Pad to the boundary with a wrap marker, bump epoch, restart at 0.
		pad := b.capacity - physOff
		if pad >= 4 {
			binary.LittleEndian.PutUint32(b.data[physOff:], wrapMarker)
		}
		b.writeCursor += pad
		b.epoch.Add(1)
		epoch = b.epoch.Load()
		physOff = 0
	}

	rec := b.data[physOff : physOff+needed]
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(payload)))
	rec[4] = kind
	binary.LittleEndian.PutUint64(rec[8:16], seq)
	binary.LittleEndian.PutUint64(rec[16:24], epoch)
	copy(rec[headerSize:], payload)

	b.writeCursor += needed
	b.cond.Broadcast()

	return Entry{Offset: offset, Length: len(payload), Kind: kind, Seq: seq, ProducerEpoch: epoch, Payload: append([]byte(nil), payload...)}, nil
}

func (b *Buffer) roomLocked(needed int64) bool {
	min, any := b.minBlockingReadCursorLocked()
	if !any {
		return true
	}
	return b.writeCursor-min+needed <= b.capacity
}

func (b *Buffer) hasBlockingConsumerLocked() bool {
	_, any := b.minBlockingReadCursorLocked()
	return any
}

func (b *Buffer) minBlockingReadCursorLocked() (int64, bool) {
	min := int64(0)
	any := false
	for _, c := range b.consumers {
		if c.policy != OverflowBlockProducer {
			continue
		}
		if !any || c.readCursor < min {
			min = c.readCursor
			any = true
		}
	}
	return min, any
}

func (b *Buffer) tryGrowLocked(needed int64) bool {
	if b.writeCursor >= b.capacity {
		// Already wrapped at least once: growing now would misplace the
		// physical layout (offsets are modulo the old capacity), so
		// OverflowResize falls back to drop-oldest/block behavior past the
		// first wrap.
		return false
	}
	if b.maxCap <= 0 || b.capacity >= b.maxCap {
		return false
	}
	newCap := b.capacity * 2
	if newCap < b.capacity+needed {
		newCap = b.capacity + needed
	}
	if b.maxCap > 0 && newCap > b.maxCap {
		newCap = b.maxCap
	}
	if newCap <= b.capacity {
		return false
	}
	grown := make([]byte, newCap)
	copy(grown, b.data)
	b.data = grown
	b.capacity = newCap
	return true
}

// Next returns the next entry visible to consumer name, blocking until one
// is available or ctx is cancelled. If the consumer has fallen behind by
// more than the ring's capacity, it is handled per the consumer's own
// overflow policy: OverflowDropOldest/OverflowResize skip the read cursor
// forward (incrementing Overflowed) and return the oldest entry still
// present; OverflowBlockProducer never observes overflow because Write
// enforces it cannot happen.
func (b *Buffer) Next(ctx context.Context, name string) (Entry, error) {
	b.mu.Lock()
	c, ok := b.consumers[name]
	if !ok {
		b.mu.Unlock()
		return Entry{}, rudaqerr.Configuration("ring.Next", errUnknownConsumer(name))
	}

	for c.readCursor >= b.writeCursor {
		if err := ctx.Err(); err != nil {
			b.mu.Unlock()
			return Entry{}, rudaqerr.Cancellation("ring.Next", err)
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.cond.Broadcast()
			case <-done:
			}
		}()
		b.cond.Wait()
		close(done)
	}

	if b.writeCursor-c.readCursor > b.capacity {
		c.readCursor = b.writeCursor - b.capacity
		n := c.overflow.Add(1)
		b.metrics.ObserveRingOverflow(c.name, n)
	}

	physOff := c.readCursor % b.capacity
	length := binary.LittleEndian.Uint32(b.data[physOff : physOff+4])
	if length == wrapMarker {
		pad := b.capacity - physOff
		c.readCursor += pad
		b.mu.Unlock()
		return b.Next(ctx, name)
	}

	recLen := int64(headerSize) + int64(length)
	rec := b.data[physOff : physOff+recLen]
	kind := rec[4]
	seq := binary.LittleEndian.Uint64(rec[8:16])
	epoch := binary.LittleEndian.Uint64(rec[16:24])
	payload := append([]byte(nil), rec[headerSize:]...)

	offset := c.readCursor
	c.readCursor += recLen
	b.mu.Unlock()

	return Entry{Offset: offset, Length: int(length), Kind: kind, Seq: seq, ProducerEpoch: epoch, Payload: payload}, nil
}

// Overflowed reports how many times the named consumer has had to skip
// forward due to falling more than capacity behind the producer.
func (b *Buffer) Overflowed(name string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[name]; ok {
		return c.overflow.Load()
	}
	return 0
}

// Lag returns write_cursor - read_cursor for the named consumer (the ring
// invariant: this must stay <= capacity under
// OverflowBlockProducer).
func (b *Buffer) Lag(name string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.consumers[name]
	if !ok {
		return 0
	}
	return b.writeCursor - c.readCursor
}

// Capacity returns the ring's current capacity in bytes (may grow under
// OverflowResize).
func (b *Buffer) Capacity() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}
