// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package timemgr emits the per-second tick and the per-minute
// dateTimeChanged signal driving time-based rule evaluation. Tests can
// shift the clock with SetTime.
package timemgr

import (
	"sync"
	"time"

	"github.com/tevino/abool"

	"github.com/newrelic/thinghub/pkg/log"
)

var tmlog = log.WithComponent("TimeManager")

// Manager holds the hub clock. In production the clock follows the
// wall clock; SetTime records an offset so tests can move it.
type Manager struct {
	mu         sync.Mutex
	offset     time.Duration
	nowFn      func() time.Time
	lastMinute time.Time

	onTick            func()
	onDateTimeChanged func(dt time.Time)

	stopped *abool.AtomicBool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a stopped time manager following the wall clock.
func New() *Manager {
	return &Manager{
		nowFn:   time.Now,
		stopped: abool.New(),
		stopCh:  make(chan struct{}),
	}
}

// OnTick registers the per-second callback. Register before Start.
func (m *Manager) OnTick(fn func()) {
	m.onTick = fn
}

// OnDateTimeChanged registers the per-minute callback. Register before
// Start.
func (m *Manager) OnDateTimeChanged(fn func(dt time.Time)) {
	m.onDateTimeChanged = fn
}

// Now is the current hub time, including any test override offset.
func (m *Manager) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowFn().Add(m.offset)
}

// SetTime overrides the clock so that the current hub time equals dt,
// and emits dateTimeChanged immediately.
func (m *Manager) SetTime(dt time.Time) {
	m.mu.Lock()
	m.offset = dt.Sub(m.nowFn())
	m.lastMinute = dt.Truncate(time.Minute)
	fn := m.onDateTimeChanged
	m.mu.Unlock()

	tmlog.WithField("dateTime", dt.String()).Debug("Clock override set.")
	if fn != nil {
		fn(dt)
	}
}

// Start begins tick emission.
func (m *Manager) Start() {
	m.mu.Lock()
	m.lastMinute = m.nowFn().Add(m.offset).Truncate(time.Minute)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	now := m.nowFn().Add(m.offset)
	minute := now.Truncate(time.Minute)
	minuteChanged := !minute.Equal(m.lastMinute)
	if minuteChanged {
		m.lastMinute = minute
	}
	onTick := m.onTick
	onDateTimeChanged := m.onDateTimeChanged
	m.mu.Unlock()

	if onTick != nil {
		onTick()
	}
	if minuteChanged && onDateTimeChanged != nil {
		onDateTimeChanged(now)
	}
}

// Stop halts tick emission. Idempotent.
func (m *Manager) Stop() {
	if !m.stopped.SetToIf(false, true) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}
