// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package i18n localizes plugin-supplied display strings. Catalogs are
// JSON documents named <pluginID>-<locale>.json inside the configured
// translation directories.
package i18n

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/newrelic/thinghub/pkg/log"
)

var tlog = log.WithComponent("Translator")

// Translator resolves plugin display strings to a requested locale,
// falling back to the base language and finally to the untranslated
// string.
type Translator struct {
	catalogs map[uuid.UUID]*pluginCatalog
}

type pluginCatalog struct {
	tags     []language.Tag
	matcher  language.Matcher
	messages map[language.Tag]map[string]string
}

// New builds a translator over the given catalog directories.
func New(dirs []string) *Translator {
	t := &Translator{catalogs: map[uuid.UUID]*pluginCatalog{}}
	for _, dir := range dirs {
		t.loadDir(dir)
	}
	return t
}

func (t *Translator) loadDir(dir string) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			tlog.WithError(err).WithField("dir", dir).Warn("Unable to read translation directory.")
		}
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		pluginID, tag, ok := parseCatalogName(strings.TrimSuffix(name, ".json"))
		if !ok {
			continue
		}
		raw, err := ioutil.ReadFile(filepath.Join(dir, name))
		if err != nil {
			tlog.WithError(err).WithField("file", name).Warn("Unable to read translation catalog.")
			continue
		}
		messages := map[string]string{}
		if err := json.Unmarshal(raw, &messages); err != nil {
			tlog.WithError(err).WithField("file", name).Warn("Unable to parse translation catalog.")
			continue
		}
		t.add(pluginID, tag, messages)
		tlog.WithFields(logrus.Fields{"plugin": pluginID.String(), "locale": tag.String(), "messages": len(messages)}).
			Debug("Loaded translation catalog.")
	}
}

// parseCatalogName splits "<pluginID>-<locale>" into its parts. The
// plugin id is a fixed-length uuid, the remainder is the locale.
func parseCatalogName(base string) (uuid.UUID, language.Tag, bool) {
	if len(base) < 38 || base[36] != '-' {
		return uuid.Nil, language.Und, false
	}
	pluginID, err := uuid.Parse(base[:36])
	if err != nil {
		return uuid.Nil, language.Und, false
	}
	tag, err := language.Parse(strings.ReplaceAll(base[37:], "_", "-"))
	if err != nil {
		return uuid.Nil, language.Und, false
	}
	return pluginID, tag, true
}

func (t *Translator) add(pluginID uuid.UUID, tag language.Tag, messages map[string]string) {
	catalog, ok := t.catalogs[pluginID]
	if !ok {
		catalog = &pluginCatalog{messages: map[language.Tag]map[string]string{}}
		t.catalogs[pluginID] = catalog
	}
	if existing, ok := catalog.messages[tag]; ok {
		for k, v := range messages {
			existing[k] = v
		}
	} else {
		catalog.messages[tag] = messages
		catalog.tags = append(catalog.tags, tag)
		catalog.matcher = language.NewMatcher(catalog.tags)
	}
}

// Translate resolves msg for the plugin in the requested locale.
// Unknown plugins, locales, or messages yield msg unchanged.
func (t *Translator) Translate(pluginID uuid.UUID, locale, msg string) string {
	if msg == "" {
		return msg
	}
	catalog, ok := t.catalogs[pluginID]
	if !ok || len(catalog.tags) == 0 {
		return msg
	}
	requested, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return msg
	}
	_, index, confidence := catalog.matcher.Match(requested)
	if confidence == language.No {
		return msg
	}
	if translated, ok := catalog.messages[catalog.tags[index]][msg]; ok && translated != "" {
		return translated
	}
	return msg
}
