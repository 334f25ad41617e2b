/*
Package idgen generates identifiers for applications, registrations and receipts.

PURPOSE:
  Every entity created by the allocation core needs an ID that is unique and
  distinguishable by creation order. The generator is injected into the
  service, never read from a process-wide counter, so tests and separate
  stores never share hidden state.

STRATEGIES:
  Sequence: prefix + zero-padded counter ("APP-000042"). The counter is an
            atomic owned by whoever constructs it, usually seeded from the
            highest number already in the store.
  UUID:     prefix + time-ordered UUIDv7 ("APP-01920f3e-..."). Needs no seed.

USAGE:
  gen := idgen.NewSequence(map[idgen.Kind]uint64{idgen.KindApplication: 41})
  gen.New(idgen.KindApplication) // "APP-000042"

SEE ALSO:
  - allocation/service.go: consumes Generator
  - store/sqlite/sqlite.go: SequenceSeeds for restart-safe counters
*/
package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind selects the prefix of a generated identifier.
type Kind string

const (
	KindApplication  Kind = "APP"
	KindRegistration Kind = "REG"
	KindReceipt      Kind = "RCP"
)

// Generator produces identifiers for a kind of entity.
type Generator interface {
	New(kind Kind) string
}

// =============================================================================
// SEQUENCE - Atomic counter per kind
// =============================================================================

// Sequence hands out "<KIND>-<n>" identifiers with n strictly increasing per kind.
type Sequence struct {
	mu       sync.Mutex
	counters map[Kind]*atomic.Uint64
}

// NewSequence creates a Sequence. seeds holds the last number already issued
// for each kind; the next ID for that kind is seed+1.
func NewSequence(seeds map[Kind]uint64) *Sequence {
	s := &Sequence{counters: make(map[Kind]*atomic.Uint64)}
	for kind, last := range seeds {
		c := &atomic.Uint64{}
		c.Store(last)
		s.counters[kind] = c
	}
	return s
}

func (s *Sequence) New(kind Kind) string {
	return Format(kind, s.counter(kind).Add(1))
}

func (s *Sequence) counter(kind Kind) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[kind]
	if !ok {
		c = &atomic.Uint64{}
		s.counters[kind] = c
	}
	return c
}

// Format renders a sequence identifier.
func Format(kind Kind, n uint64) string {
	return fmt.Sprintf("%s-%06d", kind, n)
}

// Parse extracts the number from a sequence identifier of the given kind.
// ok is false for identifiers produced by another strategy or kind.
func Parse(kind Kind, id string) (n uint64, ok bool) {
	rest, found := strings.CutPrefix(id, string(kind)+"-")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// =============================================================================
// UUID - Time-ordered random identifiers
// =============================================================================

// UUID hands out "<KIND>-<uuidv7>" identifiers. UUIDv7 sorts by creation time.
type UUID struct{}

func (UUID) New(kind Kind) string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		id = uuid.New()
	}
	return string(kind) + "-" + id.String()
}

// Compile-time checks
var (
	_ Generator = (*Sequence)(nil)
	_ Generator = UUID{}
)
