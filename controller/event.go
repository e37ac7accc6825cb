// SPDX-License-Identifier: GPL-3.0-or-later

// Package controller owns the runtime lifecycle: building a net/server
// topology from configuration, running it, watching for hot-reload, and
// publishing an event stream observers can subscribe to.
//
// Grounded end to end on original_source/src/controller.rs: the
// Controller/Inner/State split, the ControllerNet instrumentation wrapper,
// the event-batching drainer loop, and the config-stream reload race.
package controller

import "time"

// EventType is the kind of runtime event published on the event plane,
// mirroring the original's EventType enum (NewTcp today; the shape leaves
// room for the TODO-marked listener/socket wrapping the original also never
// finished).
type EventType string

const (
	EventNewTCP  EventType = "new-tcp"
	EventBytesRx EventType = "bytes-rx"
	EventBytesTx EventType = "bytes-tx"
	EventClosed  EventType = "closed"
)

// Event is a single runtime occurrence, timestamped at creation.
type Event struct {
	Type      EventType
	Net       string
	Addr      string
	Bytes     int
	Err       string
	Timestamp time.Time
}

// Batch is a group of events delivered to subscribers together, matching
// the original's BatchEvent (a Vec<Arc<Event>> coalesced by the drainer).
type Batch []Event
