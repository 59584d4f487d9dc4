// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// hub domain features
package log

import (
	"github.com/sirupsen/logrus"
)

// WithComponent decorates log context with a core component name
func WithComponent(name string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("component", name)
	}
}

// WithComponent decorates entry context with a core component name
func (e Entry) WithComponent(name string) Entry {
	return func() *logrus.Entry {
		return e().WithField("component", name)
	}
}

// WithPlugin decorates log context with a plugin id
func WithPlugin(id string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("plugin", id)
	}
}

// WithPlugin decorates entry context with a plugin id
func (e Entry) WithPlugin(id string) Entry {
	return func() *logrus.Entry {
		return e().WithField("plugin", id)
	}
}

// WithThing decorates log context with a thing id
func WithThing(id string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("thing", id)
	}
}

// WithThing decorates entry context with a thing id
func (e Entry) WithThing(id string) Entry {
	return func() *logrus.Entry {
		return e().WithField("thing", id)
	}
}

// WithRule decorates log context with a rule id
func WithRule(id string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("rule", id)
	}
}

// WithRule decorates entry context with a rule id
func (e Entry) WithRule(id string) Entry {
	return func() *logrus.Entry {
		return e().WithField("rule", id)
	}
}
