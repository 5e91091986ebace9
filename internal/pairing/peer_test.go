package pairing

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakePeer records every frame it is sent.
type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, append([]byte(nil), data...))
	return nil
}

func (p *fakePeer) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// messages decodes every recorded frame.
func (p *fakePeer) messages(t *testing.T) []Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("frame %s is not an envelope: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

// ofKind returns the recorded messages with the given type.
func (p *fakePeer) ofKind(t *testing.T, kind string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range p.messages(t) {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

// last returns the most recent message.
func (p *fakePeer) last(t *testing.T) Envelope {
	t.Helper()
	msgs := p.messages(t)
	if len(msgs) == 0 {
		t.Fatal("peer received no messages")
	}
	return msgs[len(msgs)-1]
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// reasonOf decodes a string data field.
func reasonOf(t *testing.T, env Envelope) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("data %s is not a string: %v", env.Data, err)
	}
	return s
}

// availabilityOf decodes an availability payload.
func availabilityOf(t *testing.T, env Envelope) []AvailabilityEntry {
	t.Helper()
	if env.Type != KindAvailability {
		t.Fatalf("type = %q, want %q", env.Type, KindAvailability)
	}
	var entries []AvailabilityEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decoding availability %s: %v", env.Data, err)
	}
	return entries
}

// sequentialIDs returns an id generator producing id-1, id-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + strconv.Itoa(n)
	}
}

// steppingClock returns a clock that advances one millisecond per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

// eventRecorder collects observed events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Observe(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
