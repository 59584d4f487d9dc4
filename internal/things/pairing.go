// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package things

import (
	"time"

	"github.com/google/uuid"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/types"
)

// pendingPairing is an open pairing transaction together with the timer
// bounding its lifetime.
type pendingPairing struct {
	info   *plugins.PairingInfo
	expiry *time.Timer
}

// trackPairing registers an open transaction. The transaction dies on
// confirmation, on a rejected or timed-out start, or when the expiry
// timer fires, whichever comes first.
func (m *Manager) trackPairing(info *plugins.PairingInfo) {
	id := info.TransactionID
	m.pairings[id] = &pendingPairing{
		info: info,
		expiry: time.AfterFunc(m.cfg.PairingTimeout(), func() {
			m.submit(func() {
				if _, ok := m.dropPairing(id); ok {
					mlog.WithField("transaction", id.String()).
						Debug("Unconfirmed pairing transaction expired.")
				}
			})
		}),
	}
}

// dropPairing removes an open transaction and stops its expiry timer.
func (m *Manager) dropPairing(id uuid.UUID) (*plugins.PairingInfo, bool) {
	entry, ok := m.pairings[id]
	if !ok {
		return nil, false
	}
	entry.expiry.Stop()
	delete(m.pairings, id)
	return entry.info, true
}

// PairThing opens a pairing transaction for a class whose setup method
// needs user interaction. The returned info carries the transaction id
// the user confirms with. Classes with the justAdd setup method do not
// pair; they go through AddConfiguredThing.
func (m *Manager) PairThing(thingClassID uuid.UUID, name string, params types.Params) (*plugins.PairingInfo, types.ThingError) {
	class, ok := m.registry.ThingClass(thingClassID)
	if !ok {
		return nil, types.ThingErrorThingClassNotFound
	}
	if class.SetupMethod == types.SetupMethodJustAdd {
		return nil, types.ThingErrorSetupMethodNotSupported
	}
	normalized, err := types.ValidateParams(class.ParamTypes, params, true)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	plugin, ok := m.host.Plugin(class.PluginID)
	if !ok {
		return nil, types.ThingErrorPluginNotFound
	}

	info := plugins.NewPairingInfo(thingClassID, name, normalized)
	m.tracker.Track(OpPairing, info, uuid.Nil, m.cfg.PairingTimeout(),
		func(status types.ThingError, _ string) {
			if status != types.ThingErrorNoError {
				m.dropPairing(info.TransactionID)
			}
		})
	m.trackPairing(info)
	plugin.StartPairing(info)
	return info, types.ThingErrorAsync
}

// PairDiscoveredThing opens a pairing transaction from a cached
// discovery descriptor.
func (m *Manager) PairDiscoveredThing(thingClassID uuid.UUID, name string, descriptorID uuid.UUID) (*plugins.PairingInfo, types.ThingError) {
	class, ok := m.registry.ThingClass(thingClassID)
	if !ok {
		return nil, types.ThingErrorThingClassNotFound
	}
	if class.SetupMethod == types.SetupMethodJustAdd {
		return nil, types.ThingErrorSetupMethodNotSupported
	}
	descriptor, ok := m.takeDescriptor(descriptorID)
	if !ok || descriptor.ThingClassID != thingClassID {
		return nil, types.ThingErrorThingDescriptorNotFound
	}
	normalized, err := types.ValidateParams(class.ParamTypes, descriptor.Params, false)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	plugin, ok := m.host.Plugin(class.PluginID)
	if !ok {
		return nil, types.ThingErrorPluginNotFound
	}

	info := plugins.NewPairingInfo(thingClassID, name, normalized)
	info.ThingID = descriptor.ExistingThingID
	info.ParentID = descriptor.ParentID
	m.tracker.Track(OpPairing, info, uuid.Nil, m.cfg.PairingTimeout(),
		func(status types.ThingError, _ string) {
			if status != types.ThingErrorNoError {
				m.dropPairing(info.TransactionID)
			}
		})
	m.trackPairing(info)
	plugin.StartPairing(info)
	return info, types.ThingErrorAsync
}

// ConfirmPairing passes the user's response (pin, credentials, button
// press acknowledgment) to the plugin. The returned info completes when
// the plugin accepts or rejects the confirmation; on acceptance the
// thing is created and its setup runs, ending in a thingAdded or
// thingChanged notification.
func (m *Manager) ConfirmPairing(transactionID uuid.UUID, username, secret string) (*plugins.PairingInfo, types.ThingError) {
	info, ok := m.dropPairing(transactionID)
	if !ok {
		return nil, types.ThingErrorPairingTransactionIdNotFound
	}
	class, ok := m.registry.ThingClass(info.ThingClassID)
	if !ok {
		return nil, types.ThingErrorThingClassNotFound
	}
	plugin, ok := m.host.Plugin(class.PluginID)
	if !ok {
		return nil, types.ThingErrorPluginNotFound
	}

	info.Rearm()
	m.tracker.Track(OpPairing, info, uuid.Nil, m.cfg.PairingTimeout(),
		func(status types.ThingError, displayMessage string) {
			if status != types.ThingErrorNoError {
				mlog.WithField("transaction", transactionID.String()).
					Warn("Pairing confirmation rejected by plugin.")
				return
			}
			m.finishPairing(class, info)
		})
	plugin.ConfirmPairing(info, username, secret)
	return info, types.ThingErrorAsync
}

// finishPairing creates or reconfigures the thing a confirmed pairing
// transaction was about.
func (m *Manager) finishPairing(class *types.ThingClass, info *plugins.PairingInfo) {
	if info.ThingID != uuid.Nil {
		if _, terr := m.reconfigure(info.ThingID, info.Params); terr != types.ThingErrorAsync {
			mlog.WithThing(info.ThingID.String()).
				WithField("status", string(terr)).Warn("Unable to reconfigure paired thing.")
		}
		return
	}
	if _, terr := m.addThing(class, info.ThingName, info.Params, uuid.Nil, info.ParentID, false); terr != types.ThingErrorAsync {
		mlog.WithField("class", class.Name).
			WithField("status", string(terr)).Warn("Unable to add paired thing.")
	}
}
