// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package things

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/types"
)

// serialQueue mimics the core loop: submitted closures run one at a
// time in submission order.
type serialQueue struct {
	mu sync.Mutex
}

func (q *serialQueue) submit(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

func TestTrackerCompletesOnPluginFinish(t *testing.T) {
	q := &serialQueue{}
	tracker := NewTracker(q.submit)
	info := plugins.NewDiscoveryInfo(uuid.New(), nil)

	var gotStatus types.ThingError
	tracker.Track(OpDiscovery, info, uuid.Nil, time.Minute,
		func(status types.ThingError, _ string) { gotStatus = status })

	info.Finish(types.ThingErrorNoError)
	<-info.Done()

	assert.Equal(t, types.ThingErrorNoError, gotStatus)
	assert.Equal(t, 0, tracker.Pending())
}

func TestTrackerTimesOut(t *testing.T) {
	q := &serialQueue{}
	tracker := NewTracker(q.submit)
	info := plugins.NewDiscoveryInfo(uuid.New(), nil)

	tracker.Track(OpDiscovery, info, uuid.Nil, 10*time.Millisecond, nil)

	select {
	case <-info.Done():
	case <-time.After(time.Second):
		t.Fatal("op did not time out")
	}
	assert.Equal(t, types.ThingErrorTimeout, info.Status())
	assert.Equal(t, 0, tracker.Pending())
}

func TestTrackerDropsLateFinishAfterTimeout(t *testing.T) {
	q := &serialQueue{}
	tracker := NewTracker(q.submit)
	info := plugins.NewDiscoveryInfo(uuid.New(), nil)

	calls := 0
	tracker.Track(OpDiscovery, info, uuid.Nil, 10*time.Millisecond,
		func(types.ThingError, string) { calls++ })
	<-info.Done()
	require.Equal(t, types.ThingErrorTimeout, info.Status())

	// the plugin finishing now must not flip the outcome
	info.Finish(types.ThingErrorNoError)
	assert.Equal(t, types.ThingErrorTimeout, info.Status())
	assert.Equal(t, 1, calls)
}

func TestTrackerAbortThing(t *testing.T) {
	q := &serialQueue{}
	tracker := NewTracker(q.submit)
	thingID := uuid.New()
	thing := &types.Thing{ID: thingID}

	mine := plugins.NewActionInfo(thing, types.Action{ThingID: thingID})
	other := plugins.NewActionInfo(&types.Thing{ID: uuid.New()}, types.Action{})
	tracker.Track(OpAction, mine, thingID, time.Minute, nil)
	tracker.Track(OpAction, other, other.Thing.ID, time.Minute, nil)

	tracker.AbortThing(thingID, types.ThingErrorThingNotFound)

	<-mine.Done()
	assert.Equal(t, types.ThingErrorThingNotFound, mine.Status())
	select {
	case <-mine.Aborted():
	default:
		t.Fatal("aborted channel not closed")
	}

	// unrelated ops stay pending
	assert.Equal(t, 1, tracker.Pending())
	select {
	case <-other.Done():
		t.Fatal("unrelated op completed")
	default:
	}
}

func TestTrackerShutdownAbortsEverything(t *testing.T) {
	q := &serialQueue{}
	tracker := NewTracker(q.submit)
	a := plugins.NewDiscoveryInfo(uuid.New(), nil)
	b := plugins.NewDiscoveryInfo(uuid.New(), nil)
	tracker.Track(OpDiscovery, a, uuid.Nil, time.Minute, nil)
	tracker.Track(OpDiscovery, b, uuid.Nil, time.Minute, nil)

	tracker.Shutdown()
	<-a.Done()
	<-b.Done()
	assert.Equal(t, 0, tracker.Pending())
}
