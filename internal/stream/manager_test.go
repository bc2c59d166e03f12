// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/provider"
)

func newTestManager(gen Generator, persister Persister) *Manager {
	return NewManager(gen, persister, zerolog.Nop(), nil)
}

func TestManagerSingleActiveSessionPerThread(t *testing.T) {
	gen := &pipeGenerator{}
	persister := &fakePersister{}
	m := newTestManager(gen, persister)
	identity := model.AnonymousIdentity("device-1")

	first := m.Start(context.Background(), "th_1", identity, provider.Request{})
	waitFor(t, "writer attach", func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return gen.writer != nil
	})
	gen.feed(t, `{"type":"text","seq":1,"delta":"first answer"}`)
	waitFor(t, "delta applied", func() bool { return first.PartialContent() != "" })

	// Starting again on the same thread evicts the first session with
	// partial save before the second begins.
	second := m.Start(context.Background(), "th_1", identity, provider.Request{})

	if got := first.Status(); got != StatusCancelled {
		t.Fatalf("first session Status = %q, want %q", got, StatusCancelled)
	}
	flushed := persister.flushed()
	if len(flushed) != 1 || flushed[0].Content != "first answer" {
		t.Fatalf("flushed = %+v, want the evicted partial", flushed)
	}
	if got := m.Active("th_1"); got != second {
		t.Error("Active does not return the new session")
	}

	second.Cancel(false)
}

func TestManagerIndependentThreads(t *testing.T) {
	genA := &pipeGenerator{}
	m := newTestManager(genA, &fakePersister{})
	identity := model.AnonymousIdentity("device-1")

	a := m.Start(context.Background(), "th_a", identity, provider.Request{})
	waitFor(t, "writer attach", func() bool {
		genA.mu.Lock()
		defer genA.mu.Unlock()
		return genA.writer != nil
	})

	// A different thread gets its own slot; th_a stays live.
	b := m.Start(context.Background(), "th_b", identity, provider.Request{})
	if got := m.Active("th_a"); got != a {
		t.Error("starting th_b evicted th_a")
	}
	if got := m.Active("th_b"); got != b {
		t.Error("Active(th_b) does not return its session")
	}

	a.Cancel(false)
	b.Cancel(false)
}

func TestManagerActiveNilAfterTerminal(t *testing.T) {
	gen := &fakeGenerator{lines: `{"type":"done","seq":1}` + "\n"}
	m := newTestManager(gen, &fakePersister{})

	s := m.Start(context.Background(), "th_1", model.AnonymousIdentity("d"), provider.Request{})
	s.Wait()

	if got := m.Active("th_1"); got != nil {
		t.Errorf("Active = %v after completion, want nil", got)
	}
}

func TestManagerCancel(t *testing.T) {
	gen := &pipeGenerator{}
	persister := &fakePersister{}
	m := newTestManager(gen, persister)

	s := m.Start(context.Background(), "th_1", model.AnonymousIdentity("d"), provider.Request{})
	waitFor(t, "writer attach", func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return gen.writer != nil
	})
	gen.feed(t, `{"type":"text","seq":1,"delta":"stop here"}`)
	waitFor(t, "delta applied", func() bool { return s.PartialContent() != "" })

	if !m.Cancel("th_1", true) {
		t.Fatal("Cancel returned false for a live session")
	}
	if got := s.Status(); got != StatusCancelled {
		t.Fatalf("Status = %q, want %q", got, StatusCancelled)
	}
	if got := persister.flushed(); len(got) != 1 {
		t.Fatalf("flushed %d messages, want 1", len(got))
	}

	// Second cancel finds nothing live.
	if m.Cancel("th_1", true) {
		t.Error("Cancel returned true with no live session")
	}
}

func TestManagerRelease(t *testing.T) {
	gen := &fakeGenerator{lines: `{"type":"done","seq":1}` + "\n"}
	m := newTestManager(gen, &fakePersister{})

	s := m.Start(context.Background(), "th_1", model.AnonymousIdentity("d"), provider.Request{})
	s.Wait()

	m.Release("th_1")
	m.mu.Lock()
	_, present := m.sessions["th_1"]
	m.mu.Unlock()
	if present {
		t.Error("terminal session still registered after Release")
	}
}

func TestManagerNotifyOnDeltas(t *testing.T) {
	gen := &fakeGenerator{
		lines: `{"type":"text","seq":1,"delta":"a"}` + "\n" +
			`{"type":"done","seq":2}` + "\n",
	}

	var mu sync.Mutex
	var notified []string
	m := NewManager(gen, &fakePersister{}, zerolog.Nop(), func(threadID string) {
		mu.Lock()
		notified = append(notified, threadID)
		mu.Unlock()
	})

	s := m.Start(context.Background(), "th_1", model.AnonymousIdentity("d"), provider.Request{})
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(notified) == 0 {
		t.Fatal("no notifications fired")
	}
	for _, id := range notified {
		if id != "th_1" {
			t.Errorf("notification for %q, want th_1", id)
		}
	}
}
