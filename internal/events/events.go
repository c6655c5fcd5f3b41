// Package events publishes job lifecycle events asynchronously with buffering and retry.
package events

import (
	"errors"

	"depot/pkg/cloudevent"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the event is dropped.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// ErrClosed is returned when dispatching to a closed dispatcher.
var ErrClosed = errors.New("event dispatcher is closed")

// Event is an event to be published to a subject.
type Event struct {
	Payload  *cloudevent.CloudEvent
	Subject  string
	Requeues int // number of times requeued due to circuit open (internal use)
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total events queued
	Delivered     int64 // successful publishes
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // total circuit breakers
	BreakersOpen  int   // currently open breakers
	OpenSubjects  []string
}
