package correlate

import (
	"testing"
	"time"

	"github.com/kitmatheinfo/latexfogel/internal/render"
)

func TestCorrelationID(t *testing.T) {
	a := MessageRef{ChatID: 100, MessageID: 7}
	b := MessageRef{ChatID: 100, MessageID: 8}

	if CorrelationID(a) != CorrelationID(a) {
		t.Error("correlation id not deterministic")
	}
	if CorrelationID(a) == CorrelationID(b) {
		t.Error("distinct messages share a correlation id")
	}
	if CorrelationID(a) < 0 || CorrelationID(b) < 0 {
		t.Error("correlation id must be non-negative for container names")
	}
}

func TestResponseLifecycle(t *testing.T) {
	c := NewCache()
	req := MessageRef{ChatID: 1, MessageID: 10}
	resp := MessageRef{ChatID: 1, MessageID: 11}

	if _, ok := c.PriorResponse(req); ok {
		t.Fatal("empty cache reports a prior response")
	}

	c.RegisterResponse(req, resp)
	got, ok := c.PriorResponse(req)
	if !ok || got != resp {
		t.Fatalf("PriorResponse = %v, %v", got, ok)
	}

	// An edit replaces the recorded response.
	resp2 := MessageRef{ChatID: 1, MessageID: 12}
	c.RegisterResponse(req, resp2)
	if got, _ := c.PriorResponse(req); got != resp2 {
		t.Errorf("after replace, PriorResponse = %v, want %v", got, resp2)
	}

	c.DropResponse(req)
	if _, ok := c.PriorResponse(req); ok {
		t.Error("response survived DropResponse")
	}
}

func TestWidenLifecycle(t *testing.T) {
	c := NewCache()
	resp := MessageRef{ChatID: 2, MessageID: 20}
	entry := WidenEntry{
		Owner:   555,
		Request: MessageRef{ChatID: 2, MessageID: 19},
		Source:  `$\frac{1}{2}$`,
		Role:    render.RoleLaTeX,
	}

	if _, ok := c.WidenInfo(resp); ok {
		t.Fatal("empty cache reports widen info")
	}

	c.RegisterWiden(resp, entry)
	got, ok := c.WidenInfo(resp)
	if !ok || got != entry {
		t.Fatalf("WidenInfo = %+v, %v", got, ok)
	}

	c.DropWiden(resp)
	if _, ok := c.WidenInfo(resp); ok {
		t.Error("widen info survived DropWiden")
	}
}

func TestSweep(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	old := MessageRef{ChatID: 3, MessageID: 30}
	c.RegisterResponse(old, MessageRef{ChatID: 3, MessageID: 31})
	c.RegisterWiden(MessageRef{ChatID: 3, MessageID: 31}, WidenEntry{Owner: 1})

	now = now.Add(25 * time.Hour)
	fresh := MessageRef{ChatID: 3, MessageID: 40}
	c.RegisterResponse(fresh, MessageRef{ChatID: 3, MessageID: 41})

	if evicted := c.Sweep(24 * time.Hour); evicted != 2 {
		t.Errorf("Sweep evicted %d, want 2", evicted)
	}
	if _, ok := c.PriorResponse(old); ok {
		t.Error("stale entry survived sweep")
	}
	if _, ok := c.PriorResponse(fresh); !ok {
		t.Error("fresh entry evicted by sweep")
	}

	responses, widen := c.Sizes()
	if responses != 1 || widen != 0 {
		t.Errorf("Sizes = %d, %d, want 1, 0", responses, widen)
	}
}
