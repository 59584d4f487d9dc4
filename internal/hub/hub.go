// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package hub composes the core: plugin host, thing manager, rule
// engine, time manager and notifier, all serialized onto one loop.
// Every mutation of hub state is a closure posted to that loop; plugin
// callbacks, timer fires and external API calls all go through it.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/internal/rules"
	"github.com/newrelic/thinghub/internal/things"
	"github.com/newrelic/thinghub/internal/timemgr"
	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/i18n"
	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

var hublog = log.WithComponent("Hub")

// taskQueueSize bounds the posted-closure backlog. Posts from within
// the loop itself must never exceed it.
const taskQueueSize = 1024

// Hub is the composed core. Its fields are owned by the core loop
// after Start; external surfaces reach them through Do.
type Hub struct {
	cfg        *config.Config
	store      storage.Store
	registry   *types.Registry
	host       *plugins.Host
	translator *i18n.Translator
	clock      *timemgr.Manager
	things     *things.Manager
	rules      *rules.Engine
	notifier   *Notifier

	tasks   chan func()
	stopCh  chan struct{}
	stopped *abool.AtomicBool
	wg      sync.WaitGroup
}

// New composes a hub over the given store. Start brings it to life.
func New(cfg *config.Config, store storage.Store) *Hub {
	h := &Hub{
		cfg:        cfg,
		store:      store,
		registry:   types.NewRegistry(),
		translator: i18n.New(cfg.TranslationDirs),
		clock:      timemgr.New(),
		notifier:   NewNotifier(),
		tasks:      make(chan func(), taskQueueSize),
		stopCh:     make(chan struct{}),
		stopped:    abool.New(),
	}
	h.host = plugins.NewHost(cfg, h.registry, store)
	h.things = things.NewManager(cfg, h.registry, h.host, store, h.submit)
	h.rules = rules.NewEngine(store, h.things, h.clock.Now)
	h.wire()
	return h
}

// wire connects the managers' hooks: thing events feed the rule engine
// and everything observable feeds the notifier.
func (h *Hub) wire() {
	h.things.OnThingAdded = func(t *types.Thing) {
		h.notifier.Publish(NotificationThingAdded, map[string]interface{}{
			"thingId": t.ID.String(), "name": t.Name,
		})
	}
	h.things.OnThingRemoved = func(id uuid.UUID) {
		h.notifier.Publish(NotificationThingRemoved, map[string]interface{}{
			"thingId": id.String(),
		})
	}
	h.things.OnThingChanged = func(t *types.Thing) {
		h.notifier.Publish(NotificationThingChanged, map[string]interface{}{
			"thingId": t.ID.String(), "setupStatus": string(t.SetupStatus),
		})
	}
	h.things.OnThingSettingChanged = func(thingID, paramTypeID uuid.UUID, value interface{}) {
		h.notifier.Publish(NotificationThingSettingChanged, map[string]interface{}{
			"thingId": thingID.String(), "paramTypeId": paramTypeID.String(), "value": value,
		})
	}
	h.things.OnStateChanged = func(t *types.Thing, stateTypeID uuid.UUID, value interface{}) {
		h.notifier.Publish(NotificationStateChanged, map[string]interface{}{
			"thingId": t.ID.String(), "stateTypeId": stateTypeID.String(), "value": value,
		})
	}
	h.things.OnEventTriggered = func(e types.Event) {
		h.rules.HandleEvent(e)
		// state changes already went out as stateChanged
		if !e.IsStateChange {
			h.notifier.Publish(NotificationEventTriggered, map[string]interface{}{
				"thingId": e.ThingID.String(), "eventTypeId": e.EventTypeID.String(),
			})
		}
	}

	h.things.RulesForThing = h.rules.FindRules
	h.things.RemoveThingFromRules = func(thingID uuid.UUID, policies map[uuid.UUID]things.RemovalPolicy) {
		cascade := make(map[uuid.UUID]bool, len(policies))
		for ruleID, policy := range policies {
			cascade[ruleID] = policy == things.RemovalPolicyCascade
		}
		h.rules.RemoveThingFromRules(thingID, cascade)
	}

	h.rules.OnRuleAdded = func(r *rules.Rule) {
		h.notifier.Publish(NotificationRuleAdded, map[string]interface{}{
			"ruleId": r.ID.String(), "name": r.Name,
		})
	}
	h.rules.OnRuleRemoved = func(id uuid.UUID) {
		h.notifier.Publish(NotificationRuleRemoved, map[string]interface{}{
			"ruleId": id.String(),
		})
	}
	h.rules.OnRuleChanged = func(r *rules.Rule) {
		h.notifier.Publish(NotificationRuleConfigChanged, map[string]interface{}{
			"ruleId": r.ID.String(), "enabled": r.Enabled,
		})
	}
	h.rules.OnRuleActiveChanged = func(id uuid.UUID, active bool) {
		h.notifier.Publish(NotificationRuleActiveChanged, map[string]interface{}{
			"ruleId": id.String(), "active": active,
		})
	}

	h.host.OnConfigChanged = func(pluginID uuid.UUID, params types.Params) {
		h.notifier.Publish(NotificationPluginConfigChanged, map[string]interface{}{
			"pluginId": pluginID.String(),
		})
	}

	h.clock.OnDateTimeChanged(func(dt time.Time) {
		h.submit(func() { h.rules.HandleDateTimeChanged(dt) })
	})
}

// Start launches the core loop, loads plugins, restores persisted
// things and rules and starts the clock.
func (h *Hub) Start() error {
	h.wg.Add(1)
	go h.run()

	var err error
	h.Do(func() {
		if lerr := h.host.LoadPlugins(h.context()); lerr != nil {
			hublog.WithError(lerr).Warn("Some plugins failed to load.")
		}
		if err = h.things.LoadThings(); err != nil {
			return
		}
		if err = h.rules.LoadRules(); err != nil {
			return
		}
		// configured things are restored, auto things may appear now
		h.host.StartMonitoringAuto()
		hublog.WithFields(logrus.Fields{
			"plugins": len(h.host.Plugins()),
			"things":  len(h.things.Things()),
			"rules":   len(h.rules.Rules()),
		}).Info("Hub started.")
	})
	if err != nil {
		return err
	}

	if werr := h.host.WatchPluginDirs(); werr != nil {
		hublog.WithError(werr).Warn("Plugin directory watching disabled.")
	}
	h.clock.Start()
	return nil
}

// Stop halts the clock, aborts pending plugin operations, drains the
// core loop and closes the store. Idempotent.
func (h *Hub) Stop() {
	if !h.stopped.SetToIf(false, true) {
		return
	}
	h.clock.Stop()
	h.Do(func() {
		h.things.Tracker().Shutdown()
		h.host.Shutdown()
	})
	close(h.stopCh)
	h.wg.Wait()
	if err := h.store.Close(); err != nil {
		hublog.WithError(err).Warn("Unable to close the persistence store.")
	}
	hublog.Info("Hub stopped.")
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			// run what was posted before the stop
			for {
				select {
				case fn := <-h.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-h.tasks:
			fn()
		}
	}
}

// submit posts a closure onto the core loop. Posts after Stop are
// dropped.
func (h *Hub) submit(fn func()) {
	select {
	case <-h.stopCh:
	case h.tasks <- fn:
	}
}

// Do runs fn on the core loop and waits for it. External surfaces use
// it to read or mutate hub state; never call it from the loop itself.
func (h *Hub) Do(fn func()) {
	done := make(chan struct{})
	h.submit(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-h.stopCh:
	}
}

func (h *Hub) Config() *config.Config        { return h.cfg }
func (h *Hub) Registry() *types.Registry     { return h.registry }
func (h *Hub) PluginHost() *plugins.Host     { return h.host }
func (h *Hub) ThingManager() *things.Manager { return h.things }
func (h *Hub) RuleEngine() *rules.Engine     { return h.rules }
func (h *Hub) Clock() *timemgr.Manager       { return h.clock }
func (h *Hub) Translator() *i18n.Translator  { return h.translator }
func (h *Hub) Notifier() *Notifier           { return h.notifier }
