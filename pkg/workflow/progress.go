package workflow

import (
	"sync"

	"github.com/sidekicklabs/sidekick/pkg/plan"
)

// stepBufferSize bounds each step's progress stream. A slow consumer loses
// the oldest events, never the newest.
const stepBufferSize = 64

// EventSink receives turn events in order per step. Cross-step ordering is
// unspecified.
type EventSink func(plan.PhaseEvent)

// Broker fans step progress out to a sink through per-step bounded
// buffers. Producers never block: when a step's buffer is full the oldest
// event is dropped.
type Broker struct {
	sink EventSink

	mu      sync.Mutex
	streams map[string]*stepStream
	wg      sync.WaitGroup
}

// NewBroker creates a broker delivering to sink. A nil sink discards
// events.
func NewBroker(sink EventSink) *Broker {
	if sink == nil {
		sink = func(plan.PhaseEvent) {}
	}
	return &Broker{sink: sink, streams: make(map[string]*stepStream)}
}

// Publish enqueues an event on its step's stream, creating the stream on
// first use. Events without a step ID are delivered synchronously.
func (b *Broker) Publish(ev plan.PhaseEvent) {
	if ev.StepID == "" {
		b.sink(ev)
		return
	}

	b.mu.Lock()
	stream, ok := b.streams[ev.StepID]
	if !ok {
		stream = &stepStream{events: make(chan plan.PhaseEvent, stepBufferSize)}
		b.streams[ev.StepID] = stream
		b.wg.Add(1)
		go b.drain(stream)
	}
	b.mu.Unlock()

	stream.push(ev)
}

// Close stops all streams after delivering buffered events.
func (b *Broker) Close() {
	b.mu.Lock()
	for _, stream := range b.streams {
		stream.close()
	}
	b.streams = make(map[string]*stepStream)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Broker) drain(stream *stepStream) {
	defer b.wg.Done()
	for ev := range stream.events {
		b.sink(ev)
	}
}

type stepStream struct {
	mu     sync.Mutex
	events chan plan.PhaseEvent
	closed bool
}

func (s *stepStream) push(ev plan.PhaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		// Full: drop the oldest and retry.
		select {
		case <-s.events:
		default:
		}
	}
}

func (s *stepStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
