// Package publisher implements the data publisher (§4.7, C7):
// publish/subscribe fan-out of the document stream to an arbitrary number
// of subscribers (storage writers, GUIs, RPC streams), each with its own
// bounded queue and overflow policy.
//
// This is a direct generalization of telemetry/events.Bus (bounded
// per-subscriber channel, atomic published/dropped counters, ID-keyed
// subscriber map) from a single best-effort delivery policy to the two the
// spec requires (drop-oldest and block-producer), and from the internal
// ambient Event envelope to the full Start/Descriptor/Event/Stop document
// stream.
package publisher

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/ids"
	"github.com/easternanemone/rudaq/telemetry/metrics"
)

// OverflowPolicy selects what happens when a subscriber's queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the subscriber's oldest queued document to make
	// room for the new one. Default policy; suited to GUIs that only care
	// about the latest state. A Stop being delivered is never dropped —
	// delivery keeps evicting older entries until the Stop fits. A Stop
	// already queued is not protected: later documents can evict it like
	// any other entry.
	DropOldest OverflowPolicy = iota
	// BlockProducer makes Publish block until the subscriber has room.
	// Required for storage writers, which must not lose events; this is
	// the engine's intentional backpressure path.
	BlockProducer
)

// DefaultQueueDepth is the bounded per-subscriber queue size absent an
// explicit override (configuration key subscriber_default_queue).
const DefaultQueueDepth = 1024

// Filter narrows a subscription to one run and/or a set of document kinds.
// A zero-value field matches everything. Only Start documents carry a run
// uid; Publish attributes every other document to the run of the most
// recently published Start.
type Filter struct {
	RunUid ids.RunUid
	Kinds  map[string]bool // document.Document.Kind() values; nil/empty = all
}

func (f Filter) matches(d document.Document, run ids.RunUid) bool {
	if f.RunUid != "" && run != f.RunUid {
		return false
	}
	if len(f.Kinds) > 0 && !f.Kinds[d.Kind()] {
		return false
	}
	return true
}

// Stats reports runtime counters for observability.
type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64
}

// Publisher fans out documents to subscribers. The zero value is not
// usable; construct with New.
type Publisher struct {
	mu        sync.RWMutex
	subs      map[int64]*subscription
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64
	metrics   *metrics.Recorder

	currentRun ids.RunUid // run of the most recent Start, for Filter.RunUid
}

// New constructs an empty Publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[int64]*subscription)}
}

// SetMetrics attaches a Recorder that every subsequent Publish call reports
// cumulative subscriber/published/dropped counts to. Passing nil detaches
// metrics recording; a Publisher from New runs without it until set.
func (p *Publisher) SetMetrics(r *metrics.Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = r
}

// subscription is the per-subscriber state behind a Subscription handle:
// its filter, overflow policy and bounded queue.
type subscription struct {
	id      int64
	pub     *Publisher
	filter  Filter
	policy  OverflowPolicy
	ch      chan document.Document
	dropped atomic.Uint64
}

// Subscription is the public handle returned by Subscribe.
type Subscription struct {
	inner *subscription
}

// Stream returns the channel documents arrive on, in publish order.
func (s Subscription) Stream() <-chan document.Document { return s.inner.ch }

// Dropped reports how many documents this subscriber has lost to
// drop-oldest eviction.
func (s Subscription) Dropped() uint64 { return s.inner.dropped.Load() }

// Unsubscribe detaches and closes the subscription's channel.
func (s Subscription) Unsubscribe() { s.inner.pub.unsubscribe(s.inner.id) }

// Subscribe registers a new subscriber matching filter, with queue sized
// depth (DefaultQueueDepth if depth <= 0) and the given overflow policy.
func (p *Publisher) Subscribe(filter Filter, policy OverflowPolicy, depth int) Subscription {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	s := &subscription{
		id:     p.nextID,
		pub:    p,
		filter: filter,
		policy: policy,
		ch:     make(chan document.Document, depth),
	}
	p.subs[s.id] = s
	return Subscription{inner: s}
}

func (p *Publisher) unsubscribe(id int64) {
	p.mu.Lock()
	s, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Publish delivers doc to every matching subscriber, in subscriber
// registration order. Document order is preserved per-subscriber (§4.7, §5
// ordering guarantees): Publish is expected to be called by a single
// producer (the RunEngine's document emitter) so this ordering holds
// without additional synchronization here.
//
// A BlockProducer subscriber makes this call block until it has room —
// that is the engine's intentional backpressure path. A DropOldest
// subscriber never blocks Publish.
func (p *Publisher) Publish(doc document.Document) {
	p.mu.Lock()
	if doc.Start != nil {
		p.currentRun = doc.Start.RunUid
	}
	run := p.currentRun
	subs := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	p.published.Add(1)
	for _, s := range subs {
		if !s.filter.matches(doc, run) {
			continue
		}
		s.deliver(doc, &p.dropped)
	}

	p.mu.RLock()
	m := p.metrics
	p.mu.RUnlock()
	m.ObservePublisherStats(len(subs), p.published.Load(), p.dropped.Load())
}

func (s *subscription) deliver(doc document.Document, globalDropped *atomic.Uint64) {
	if s.policy == BlockProducer {
		s.ch <- doc
		return
	}
	for {
		select {
		case s.ch <- doc:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			globalDropped.Add(1)
		default:
			// Channel drained concurrently (shouldn't happen: single
			// producer) or never had room; retry the send immediately.
		}
	}
}

// Stats returns aggregate publisher counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Subscribers: len(p.subs), Published: p.published.Load(), Dropped: p.dropped.Load()}
}
