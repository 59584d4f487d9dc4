// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package plugins

import (
	"sync"

	"github.com/google/uuid"

	"github.com/newrelic/thinghub/pkg/types"
)

// asyncInfo is the completion machinery shared by all async op handles.
// A handle completes exactly once: through the plugin's Finish, through
// the tracker's timeout, or through cancellation. Waiters select on
// Done and read the outcome afterwards.
type asyncInfo struct {
	id uuid.UUID

	mu             sync.Mutex
	finished       bool
	status         types.ThingError
	displayMessage string

	done    chan struct{}
	aborted chan struct{}

	// complete is injected by the op tracker; it routes the completion
	// onto the core loop and drops late calls.
	complete func(status types.ThingError, displayMessage string)
}

func newAsyncInfo(id uuid.UUID) asyncInfo {
	return asyncInfo{
		id:      id,
		done:    make(chan struct{}),
		aborted: make(chan struct{}),
	}
}

// ID is the correlation id of this operation.
func (i *asyncInfo) ID() uuid.UUID { return i.id }

// Finish completes the operation. The first status wins; optional
// display messages are translatable plugin strings.
func (i *asyncInfo) Finish(status types.ThingError, displayMessage ...string) {
	msg := ""
	if len(displayMessage) > 0 {
		msg = displayMessage[0]
	}
	i.mu.Lock()
	complete := i.complete
	i.mu.Unlock()
	if complete != nil {
		complete(status, msg)
	}
}

// Done is closed once the operation completed (including timeouts).
func (i *asyncInfo) Done() <-chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.done
}

// Aborted is closed when the op is cancelled; plugins doing long work
// should select on it.
func (i *asyncInfo) Aborted() <-chan struct{} { return i.aborted }

// Status is the final status. Valid after Done is closed.
func (i *asyncInfo) Status() types.ThingError {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// DisplayMessage is the localized plugin message. Valid after Done.
func (i *asyncInfo) DisplayMessage() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.displayMessage
}

// Bind wires the completion routing. Called by the op tracker before
// the handle is passed to a plugin.
func (i *asyncInfo) Bind(complete func(status types.ThingError, displayMessage string)) {
	i.mu.Lock()
	i.complete = complete
	i.mu.Unlock()
}

// Settle records the outcome and wakes waiters. Called exactly once by
// the op tracker on the core loop.
func (i *asyncInfo) Settle(status types.ThingError, displayMessage string) {
	i.mu.Lock()
	if i.finished {
		i.mu.Unlock()
		return
	}
	i.finished = true
	i.status = status
	i.displayMessage = displayMessage
	done := i.done
	i.mu.Unlock()
	close(done)
}

// Abort signals cancellation to the plugin.
func (i *asyncInfo) Abort() {
	i.mu.Lock()
	defer i.mu.Unlock()
	select {
	case <-i.aborted:
	default:
		close(i.aborted)
	}
}

// DiscoveryInfo tracks one discovery run of a thing class.
type DiscoveryInfo struct {
	asyncInfo
	ThingClassID uuid.UUID
	Params       types.Params

	dmu         sync.Mutex
	descriptors []types.ThingDescriptor
}

// NewDiscoveryInfo builds a discovery handle.
func NewDiscoveryInfo(thingClassID uuid.UUID, params types.Params) *DiscoveryInfo {
	return &DiscoveryInfo{
		asyncInfo:    newAsyncInfo(uuid.New()),
		ThingClassID: thingClassID,
		Params:       params,
	}
}

// AddDescriptor reports one discovered thing. Plugins call this from
// their worker goroutines before finishing the discovery.
func (i *DiscoveryInfo) AddDescriptor(d types.ThingDescriptor) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.ThingClassID == uuid.Nil {
		d.ThingClassID = i.ThingClassID
	}
	i.dmu.Lock()
	i.descriptors = append(i.descriptors, d)
	i.dmu.Unlock()
}

// Descriptors returns the collected results.
func (i *DiscoveryInfo) Descriptors() []types.ThingDescriptor {
	i.dmu.Lock()
	defer i.dmu.Unlock()
	out := make([]types.ThingDescriptor, len(i.descriptors))
	copy(out, i.descriptors)
	return out
}

// SetupInfo tracks the setup of one thing.
type SetupInfo struct {
	asyncInfo
	Thing *types.Thing
}

// NewSetupInfo builds a setup handle for the given thing.
func NewSetupInfo(thing *types.Thing) *SetupInfo {
	return &SetupInfo{asyncInfo: newAsyncInfo(uuid.New()), Thing: thing}
}

// PairingInfo tracks a pairing transaction across start and confirm.
type PairingInfo struct {
	asyncInfo
	TransactionID uuid.UUID
	ThingClassID  uuid.UUID
	ThingID       uuid.UUID // set when re-pairing an existing thing
	ThingName     string
	ParentID      uuid.UUID
	Params        types.Params

	omu      sync.Mutex
	oAuthURL string
}

// NewPairingInfo builds a pairing handle; the handle id doubles as the
// pairing transaction id.
func NewPairingInfo(thingClassID uuid.UUID, name string, params types.Params) *PairingInfo {
	txID := uuid.New()
	return &PairingInfo{
		asyncInfo:     newAsyncInfo(txID),
		TransactionID: txID,
		ThingClassID:  thingClassID,
		ThingName:     name,
		Params:        params,
	}
}

// Rearm reopens the handle for the confirmation phase. A pairing
// transaction completes twice: once when the plugin accepts the
// pairing start and once when it accepts or rejects the confirmation.
func (i *PairingInfo) Rearm() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.finished {
		return
	}
	i.finished = false
	i.status = types.ThingErrorNoError
	i.displayMessage = ""
	i.done = make(chan struct{})
}

// SetOAuthURL publishes the URL the user must visit for oAuth setups.
func (i *PairingInfo) SetOAuthURL(url string) {
	i.omu.Lock()
	i.oAuthURL = url
	i.omu.Unlock()
}

// OAuthURL returns the published oAuth URL, if any.
func (i *PairingInfo) OAuthURL() string {
	i.omu.Lock()
	defer i.omu.Unlock()
	return i.oAuthURL
}

// ActionInfo tracks one action execution.
type ActionInfo struct {
	asyncInfo
	Thing  *types.Thing
	Action types.Action
}

// NewActionInfo builds an action handle.
func NewActionInfo(thing *types.Thing, action types.Action) *ActionInfo {
	return &ActionInfo{asyncInfo: newAsyncInfo(uuid.New()), Thing: thing, Action: action}
}

// BrowseResult tracks one browse request on a browsable thing.
type BrowseResult struct {
	asyncInfo
	Thing  *types.Thing
	ItemID string
	Locale string

	imu   sync.Mutex
	items []types.BrowserItem
}

// NewBrowseResult builds a browse handle.
func NewBrowseResult(thing *types.Thing, itemID, locale string) *BrowseResult {
	return &BrowseResult{asyncInfo: newAsyncInfo(uuid.New()), Thing: thing, ItemID: itemID, Locale: locale}
}

// AddItems appends entries to the browse result.
func (r *BrowseResult) AddItems(items ...types.BrowserItem) {
	r.imu.Lock()
	r.items = append(r.items, items...)
	r.imu.Unlock()
}

// Items returns the collected entries.
func (r *BrowseResult) Items() []types.BrowserItem {
	r.imu.Lock()
	defer r.imu.Unlock()
	out := make([]types.BrowserItem, len(r.items))
	copy(out, r.items)
	return out
}

// BrowserItemResult tracks a single browser item lookup.
type BrowserItemResult struct {
	asyncInfo
	Thing  *types.Thing
	ItemID string
	Locale string

	imu  sync.Mutex
	item types.BrowserItem
}

// NewBrowserItemResult builds a browser item lookup handle.
func NewBrowserItemResult(thing *types.Thing, itemID, locale string) *BrowserItemResult {
	return &BrowserItemResult{asyncInfo: newAsyncInfo(uuid.New()), Thing: thing, ItemID: itemID, Locale: locale}
}

// SetItem publishes the looked-up item.
func (r *BrowserItemResult) SetItem(item types.BrowserItem) {
	r.imu.Lock()
	r.item = item
	r.imu.Unlock()
}

// Item returns the looked-up item.
func (r *BrowserItemResult) Item() types.BrowserItem {
	r.imu.Lock()
	defer r.imu.Unlock()
	return r.item
}

// BrowserActionInfo tracks the execution of a browser item.
type BrowserActionInfo struct {
	asyncInfo
	Thing  *types.Thing
	Action types.BrowserAction
}

// NewBrowserActionInfo builds a browser item execution handle.
func NewBrowserActionInfo(thing *types.Thing, action types.BrowserAction) *BrowserActionInfo {
	return &BrowserActionInfo{asyncInfo: newAsyncInfo(uuid.New()), Thing: thing, Action: action}
}

// BrowserItemActionInfo tracks an action on a browser item.
type BrowserItemActionInfo struct {
	asyncInfo
	Thing  *types.Thing
	Action types.BrowserItemAction
}

// NewBrowserItemActionInfo builds a browser item action handle.
func NewBrowserItemActionInfo(thing *types.Thing, action types.BrowserItemAction) *BrowserItemActionInfo {
	return &BrowserItemActionInfo{asyncInfo: newAsyncInfo(uuid.New()), Thing: thing, Action: action}
}
