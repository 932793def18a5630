// Package ticket implements the flight/ticketed bulk channel (§4.9, C9): an
// out-of-band, reference-counted store for bulk payloads (image frames,
// waveform arrays) too large to inline into an Event's scalars. The engine
// deposits a payload and stamps the Event with the returned Ticket;
// consumers resolve the ticket exactly once each.
//
// The reference-counted, expiring cache is grounded on
// internal/resources.Manager's LRU cache (container/list + map keyed by
// string, deep-copy-on-store, capacity-bounded eviction in
// internal/resources/manager.go), generalized from a single-consumer
// URL->page cache to a multi-consumer, per-token exactly-once bulk store.
package ticket

import (
	"container/list"
	"sync"
	"time"

	"github.com/easternanemone/rudaq/ids"
	"github.com/easternanemone/rudaq/rudaqerr"
)

// Token authorizes one consumer to resolve a ticket.
// Open Question 3, authorization is per-consumer token chosen by the caller
// and passed to Put and Resolve; the store does not fix a global authorization model beyond
// enforcing exactly-once delivery per token.
type Token string

// Payload is the bulk value a Ticket refers to. Endpoint names the backing
// store (e.g. "ring" when the payload was written into the ring buffer's
// bulk region, or "mem" for pure in-process storage); Data is the raw bytes.
type Payload struct {
	Endpoint string
	Data     []byte
}

// Ticket is the document-plane handle embedded in Event.BulkRefs. It
// mirrors document.Ticket's wire shape exactly.
type Ticket struct {
	Endpoint  string
	TicketId  ids.TicketId
	ExpiresAt time.Time
}

type entry struct {
	ticket    Ticket
	payload   Payload
	resolved  map[Token]bool
	refCount  int
	createdAt time.Time
}

// Store is the reference-counted, expiring ticket store (C9). A zero Store
// is not usable; construct with New.
type Store struct {
	mu           sync.Mutex
	defaultTTL   time.Duration
	maxOutstanding int64
	outstanding  int64

	entries map[ids.TicketId]*list.Element
	order   *list.List // most-recently-put at front, for eviction diagnostics
}

// Config bounds the ticket store's resource usage.
type Config struct {
	DefaultExpiry      time.Duration
	MaxOutstandingBytes int64
}

// New constructs a ticket store. A zero DefaultExpiry defaults to 30s.
func New(cfg Config) *Store {
	ttl := cfg.DefaultExpiry
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{
		defaultTTL:     ttl,
		maxOutstanding: cfg.MaxOutstandingBytes,
		entries:        make(map[ids.TicketId]*list.Element),
		order:          list.New(),
	}
}

// Put deposits payload and returns a Ticket referencing it, with an initial
// reference count equal to len(authorized) (one per token expected to
// resolve it). If authorized is empty, the ticket is open to any caller of
// Resolve (single-shot, any-consumer semantics).
func (s *Store) Put(endpoint string, data []byte, authorized []Token) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxOutstanding > 0 && s.outstanding+int64(len(data)) > s.maxOutstanding {
		return Ticket{}, rudaqerr.Invariant("ticket.Put", errOutstandingExceeded)
	}

	t := Ticket{
		Endpoint:  endpoint,
		TicketId:  ids.NewTicketId(),
		ExpiresAt: time.Now().Add(s.defaultTTL),
	}
	e := &entry{
		ticket:    t,
		payload:   Payload{Endpoint: endpoint, Data: data},
		resolved:  make(map[Token]bool, len(authorized)),
		refCount:  maxInt(len(authorized), 1),
		createdAt: time.Now(),
	}
	el := s.order.PushFront(e)
	s.entries[t.TicketId] = el
	s.outstanding += int64(len(data))
	return t, nil
}

// Resolve returns the payload for t on behalf of consumer. Per ticket, a
// given token resolving again while the ticket is still held gets the
// identical payload (idempotent replay); a *different* token decrements the
// remaining reference count, and the ticket is evicted once every expected
// consumer has resolved or it has expired, after which any Resolve of it
// fails.
func (s *Store) Resolve(t Ticket, consumer Token) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[t.TicketId]
	if !ok {
		return Payload{}, rudaqerr.Validation("ticket.Resolve", errUnknownTicket)
	}
	e := el.Value.(*entry)
	if time.Now().After(e.ticket.ExpiresAt) {
		s.evictLocked(el)
		return Payload{}, rudaqerr.Validation("ticket.Resolve", errExpired)
	}

	if e.resolved[consumer] {
		return e.payload, nil
	}
	e.resolved[consumer] = true
	e.refCount--
	payload := e.payload
	if e.refCount <= 0 {
		s.evictLocked(el)
	}
	return payload, nil
}

// ListExpired returns the ticket ids of every entry past expiry, without
// evicting them (callers typically log, then let the next Resolve or a
// Sweep evict them).
func (s *Store) ListExpired() []ids.TicketId {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []ids.TicketId
	for id, el := range s.entries {
		if now.After(el.Value.(*entry).ticket.ExpiresAt) {
			out = append(out, id)
		}
	}
	return out
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for _, el := range s.entries {
		if now.After(el.Value.(*entry).ticket.ExpiresAt) {
			s.evictLocked(el)
			n++
		}
	}
	return n
}

// Outstanding reports the current sum of live payload bytes.
func (s *Store) Outstanding() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

func (s *Store) evictLocked(el *list.Element) {
	e := el.Value.(*entry)
	s.outstanding -= int64(len(e.payload.Data))
	delete(s.entries, e.ticket.TicketId)
	s.order.Remove(el)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
