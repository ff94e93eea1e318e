package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/anvilbuild/anvil/internal/engine"
)

// Mux fans in events from multiple jobs and delivers them via a bounded
// channel. When downstream consumers cannot keep up and the output buffer
// would overflow, the mux drops records and emits a synthesized warning
// event to surface the number of discarded entries.
type Mux struct {
	out chan engine.Event

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan engine.Event, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan engine.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes events until the
// source channel is closed.
func (m *Mux) Add(source <-chan engine.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			m.deliver(normalize(evt))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop
// metadata, and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt engine.Event) {
	if !m.flushPending(evt.Job) {
		m.recordDrop(evt.Job, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Job, 1)
}

func (m *Mux) flushPending(job string) bool {
	for {
		count := m.takeDrops(job)
		if count == 0 {
			return true
		}
		meta := synthesizeDropEvent(job, count)
		if m.trySend(meta) {
			continue
		}
		m.recordDrop(job, count)
		return false
	}
}

func (m *Mux) takeDrops(job string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[job]
	if count != 0 {
		delete(m.drops, job)
	}
	return count
}

func (m *Mux) recordDrop(job string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	m.drops[job] += count
	m.mu.Unlock()
}

func (m *Mux) flushDrops() {
	pending := m.collectDrops()
	for job, count := range pending {
		m.blockingSend(synthesizeDropEvent(job, count))
	}
}

func (m *Mux) collectDrops() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drops) == 0 {
		return nil
	}
	dup := make(map[string]int, len(m.drops))
	for job, count := range m.drops {
		if count == 0 {
			continue
		}
		dup[job] = count
	}
	m.drops = make(map[string]int)
	return dup
}

func (m *Mux) trySend(evt engine.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func (m *Mux) blockingSend(evt engine.Event) {
	m.out <- evt
}

func normalize(evt engine.Event) engine.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = engine.SourceSystem
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	return evt
}

func synthesizeDropEvent(job string, count int) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Job:       job,
		Type:      engine.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    engine.SourceMux,
	}
}
