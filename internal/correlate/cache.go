// Package correlate remembers the relationship between chat messages and
// the responses rendered for them. All state is in memory and is lost on
// restart; stale affordances after a restart simply stop working.
package correlate

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kitmatheinfo/latexfogel/internal/render"
)

// MessageRef identifies one chat message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) String() string {
	return fmt.Sprintf("%d:%d", r.ChatID, r.MessageID)
}

// CorrelationID derives a stable numeric id for a request message. It is
// used in container names, so it must be deterministic and collision-poor
// across concurrent jobs.
func CorrelationID(ref MessageRef) int64 {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref.String()))
	return int64(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
}

// WidenEntry is everything needed to rerender a response at full width.
type WidenEntry struct {
	Owner   int64      // User who submitted the original source.
	Request MessageRef // Request message, so the wide response stays correlated.
	Source  string
	Role    render.Role
}

type responseEntry struct {
	response MessageRef
	added    time.Time
}

type widenRecord struct {
	entry WidenEntry
	added time.Time
}

// Cache is the in-memory interaction correlation store. It tracks which
// response message a request produced (for supersession on edits) and the
// rerender material behind each widen affordance. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	responses map[MessageRef]responseEntry // request -> response
	widen     map[MessageRef]widenRecord   // response -> rerender material

	now func() time.Time // test seam
}

func NewCache() *Cache {
	return &Cache{
		responses: make(map[MessageRef]responseEntry),
		widen:     make(map[MessageRef]widenRecord),
		now:       time.Now,
	}
}

// RegisterResponse records that request produced response, replacing any
// earlier response for the same request.
func (c *Cache) RegisterResponse(request, response MessageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[request] = responseEntry{response: response, added: c.now()}
}

// PriorResponse returns the response previously recorded for request.
func (c *Cache) PriorResponse(request MessageRef) (MessageRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.responses[request]
	return e.response, ok
}

// DropResponse forgets the response recorded for request.
func (c *Cache) DropResponse(request MessageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.responses, request)
}

// RegisterWiden stores the rerender material behind a widen affordance.
func (c *Cache) RegisterWiden(response MessageRef, entry WidenEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.widen[response] = widenRecord{entry: entry, added: c.now()}
}

// WidenInfo returns the rerender material for a response, if remembered.
func (c *Cache) WidenInfo(response MessageRef) (WidenEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.widen[response]
	return r.entry, ok
}

// DropWiden forgets the widen material for a response.
func (c *Cache) DropWiden(response MessageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.widen, response)
}

// Sweep evicts entries older than maxAge and reports how many were removed.
func (c *Cache) Sweep(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	evicted := 0
	for k, e := range c.responses {
		if e.added.Before(cutoff) {
			delete(c.responses, k)
			evicted++
		}
	}
	for k, r := range c.widen {
		if r.added.Before(cutoff) {
			delete(c.widen, k)
			evicted++
		}
	}
	return evicted
}

// Sizes reports the live entry counts of both maps.
func (c *Cache) Sizes() (responses, widen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses), len(c.widen)
}
