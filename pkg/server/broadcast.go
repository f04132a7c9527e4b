package server

import (
	"log"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
)

// NoOrigin marks a server-initiated broadcast with no originating session.
const NoOrigin uint64 = 0

type broadcastJob struct {
	channel protocol.Channel
	payload []byte
	origin  uint64
}

// Broadcaster fans payloads out to subscribed sessions. Publish only
// enqueues; a dedicated worker goroutine performs the delivery, so a burst of
// inbound messages never stalls reading further input from any connection.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	jobs     chan broadcastJob
	done     chan struct{}
	stopped  chan struct{}
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, metrics *Metrics, queueSize int) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		jobs:     make(chan broadcastJob, queueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run drains the job queue until Stop is called. Run in its own goroutine.
func (b *Broadcaster) Run() {
	defer close(b.stopped)

	for {
		select {
		case <-b.done:
			return
		case job := <-b.jobs:
			b.fanOut(job)
		}
	}
}

// Stop terminates the worker and waits for it to exit.
func (b *Broadcaster) Stop() {
	close(b.done)
	<-b.stopped
}

// Publish queues payload for delivery to every session subscribed to channel,
// excluding origin. Pass NoOrigin for server-initiated broadcasts. Delivery
// is best effort: if the fan-out queue is full the broadcast is dropped.
func (b *Broadcaster) Publish(channel protocol.Channel, payload []byte, origin uint64) {
	select {
	case b.jobs <- broadcastJob{channel: channel, payload: payload, origin: origin}:
	default:
		log.Printf("Broadcast queue full, dropping %s broadcast", channel)
		b.metrics.RecordBroadcastDropped()
	}
}

// fanOut delivers one job to a point-in-time snapshot of the registry.
// Per-recipient failures are collected and the failed sessions removed only
// after the pass completes, so the set being iterated is never mutated.
func (b *Broadcaster) fanOut(job broadcastJob) {
	start := time.Now()

	sessions := b.registry.Snapshot()
	delivered := 0
	var dead []uint64

	for _, sess := range sessions {
		if sess.ID == job.origin {
			continue
		}
		if !sess.IsSubscribed(job.channel) {
			continue
		}
		if err := sess.enqueue(job.payload); err != nil {
			log.Printf("Session %d: broadcast on %s failed: %v", sess.ID, job.channel, err)
			dead = append(dead, sess.ID)
			continue
		}
		delivered++
	}

	for _, id := range dead {
		b.registry.Remove(id)
	}

	b.metrics.RecordBroadcastFanout(string(job.channel), delivered)
	b.metrics.RecordBroadcastDuration(string(job.channel), time.Since(start).Seconds())
	b.metrics.RecordMessageSent(string(job.channel))
}
