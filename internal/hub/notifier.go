// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package hub

// NotificationKind names a hub notification.
type NotificationKind string

const (
	NotificationThingAdded          NotificationKind = "thingAdded"
	NotificationThingRemoved        NotificationKind = "thingRemoved"
	NotificationThingChanged        NotificationKind = "thingChanged"
	NotificationThingSettingChanged NotificationKind = "thingSettingChanged"
	NotificationStateChanged        NotificationKind = "stateChanged"
	NotificationEventTriggered      NotificationKind = "eventTriggered"
	NotificationRuleAdded           NotificationKind = "ruleAdded"
	NotificationRuleRemoved         NotificationKind = "ruleRemoved"
	NotificationRuleActiveChanged   NotificationKind = "ruleActiveChanged"
	NotificationRuleConfigChanged   NotificationKind = "ruleConfigurationChanged"
	NotificationPluginConfigChanged NotificationKind = "pluginConfigChanged"
)

// Notification is one published hub signal. Params carry the ids and
// values a consumer needs to resolve the affected entity.
type Notification struct {
	Kind   NotificationKind
	Params map[string]interface{}
}

// Notifier is the subscription registry for hub notifications. Publish
// and Subscribe run on the core loop; subscribers are invoked inline
// and must not block.
type Notifier struct {
	nextID int
	subs   map[int]func(Notification)
}

// NewNotifier builds an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: map[int]func(Notification){}}
}

// Subscribe registers a notification callback and returns its cancel
// function.
func (n *Notifier) Subscribe(fn func(Notification)) func() {
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() { delete(n.subs, id) }
}

// Publish delivers a notification to every subscriber.
func (n *Notifier) Publish(kind NotificationKind, params map[string]interface{}) {
	notification := Notification{Kind: kind, Params: params}
	for _, fn := range n.subs {
		fn(notification)
	}
}
