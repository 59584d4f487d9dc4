// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package things

import (
	"time"

	"github.com/google/uuid"

	"github.com/newrelic/thinghub/pkg/types"
)

// OpKind partitions the async op correlation space.
type OpKind string

const (
	OpDiscovery OpKind = "discovery"
	OpSetup     OpKind = "setup"
	OpPairing   OpKind = "pairing"
	OpAction    OpKind = "action"
	OpBrowse    OpKind = "browse"
)

type opKey struct {
	kind OpKind
	id   uuid.UUID
}

// opHandle is the slice of an async info handle the tracker needs.
// All plugin info handles satisfy it.
type opHandle interface {
	ID() uuid.UUID
	Bind(complete func(status types.ThingError, displayMessage string))
	Settle(status types.ThingError, displayMessage string)
	Abort()
}

type pendingOp struct {
	handle     opHandle
	thingID    uuid.UUID
	timer      *time.Timer
	onComplete func(status types.ThingError, displayMessage string)
}

// AsyncOpTracker correlates plugin asynchronous completions with
// pending requests and enforces per-op timeouts. All state access
// happens on the core loop; plugin callbacks and timer fires are
// routed there through submit.
type AsyncOpTracker struct {
	submit  func(fn func())
	pending map[opKey]*pendingOp
}

// NewTracker builds a tracker routing completions through submit.
func NewTracker(submit func(fn func())) *AsyncOpTracker {
	return &AsyncOpTracker{submit: submit, pending: map[opKey]*pendingOp{}}
}

// Track registers a pending op. thingID may be uuid.Nil for ops not
// addressing a configured thing (discovery, pairing start). onComplete
// runs on the core loop exactly once: on plugin completion, timeout,
// or abort; late plugin callbacks are dropped.
func (t *AsyncOpTracker) Track(kind OpKind, handle opHandle, thingID uuid.UUID,
	timeout time.Duration, onComplete func(status types.ThingError, displayMessage string)) {

	key := opKey{kind: kind, id: handle.ID()}
	op := &pendingOp{handle: handle, thingID: thingID, onComplete: onComplete}
	t.pending[key] = op

	handle.Bind(func(status types.ThingError, displayMessage string) {
		t.submit(func() { t.complete(key, status, displayMessage) })
	})
	op.timer = time.AfterFunc(timeout, func() {
		t.submit(func() { t.complete(key, types.ThingErrorTimeout, "") })
	})
}

// complete finishes a pending op. Unknown keys mean the op already
// completed or timed out; those completions are silently dropped.
func (t *AsyncOpTracker) complete(key opKey, status types.ThingError, displayMessage string) {
	op, ok := t.pending[key]
	if !ok {
		return
	}
	delete(t.pending, key)
	op.timer.Stop()
	op.handle.Settle(status, displayMessage)
	if op.onComplete != nil {
		op.onComplete(status, displayMessage)
	}
}

// AbortThing cancels every pending op addressing the given thing,
// completing it with the given status. Used when a thing is removed
// while ops are in flight.
func (t *AsyncOpTracker) AbortThing(thingID uuid.UUID, status types.ThingError) {
	for key, op := range t.pending {
		if op.thingID != thingID {
			continue
		}
		op.handle.Abort()
		t.complete(key, status, "")
	}
}

// Pending reports how many ops are outstanding.
func (t *AsyncOpTracker) Pending() int {
	return len(t.pending)
}

// Shutdown aborts everything that is still in flight.
func (t *AsyncOpTracker) Shutdown() {
	for key, op := range t.pending {
		op.handle.Abort()
		t.complete(key, types.ThingErrorTimeout, "")
	}
}
