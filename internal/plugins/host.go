// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package plugins

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

var hlog = log.WithComponent("PluginHost")

// API version of the plugin contract. A plugin's declared major must
// match; its minor must not exceed ours.
const (
	apiVersionMajor = 1
	apiVersionMinor = 5
)

const pluginConfigGroup = "PluginConfig"

// Factory builds a plugin instance. Plugins are compiled in and
// register their factory at init time; the metadata document decides
// which ones actually load.
type Factory func() Plugin

var (
	factoriesMu sync.Mutex
	factories   = map[uuid.UUID]Factory{}
)

// RegisterFactory makes a plugin implementation available to the host.
func RegisterFactory(id uuid.UUID, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[id] = f
}

func lookupFactory(id uuid.UUID) (Factory, bool) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	f, ok := factories[id]
	return f, ok
}

// LoadedPlugin couples a running plugin instance with its metadata and
// current configuration values.
type LoadedPlugin struct {
	Plugin
	Metadata *types.PluginMetadata
	Config   types.Params
}

// Host discovers plugin metadata in the configured directories,
// instantiates the matching plugin objects and routes configuration to
// them.
type Host struct {
	cfg      *config.Config
	registry *types.Registry
	store    storage.Store

	plugins map[uuid.UUID]*LoadedPlugin
	watcher *fsnotify.Watcher

	// invoked after a successful SetPluginConfig; the hub publishes the
	// pluginConfigChanged notification through it.
	OnConfigChanged func(pluginID uuid.UUID, params types.Params)
}

// NewHost builds a plugin host.
func NewHost(cfg *config.Config, registry *types.Registry, store storage.Store) *Host {
	return &Host{
		cfg:      cfg,
		registry: registry,
		store:    store,
		plugins:  map[uuid.UUID]*LoadedPlugin{},
	}
}

// LoadPlugins scans the plugin directories for metadata documents and
// brings up every plugin that has a registered factory and a
// compatible API version. Individual plugin failures are logged, the
// rest keeps loading.
func (h *Host) LoadPlugins(ctx HubContext) error {
	var errs error
	for _, dir := range h.cfg.PluginDirs {
		entries, err := ioutil.ReadDir(dir)
		if err != nil {
			hlog.WithError(err).WithField("dir", dir).Warn("Unable to read plugin directory.")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			if err := h.loadMetadataFile(ctx, filepath.Join(dir, entry.Name())); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

func (h *Host) loadMetadataFile(ctx HubContext, path string) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "unable to read plugin metadata %s", path)
	}
	meta, err := types.ParseMetadata(raw)
	if err != nil {
		hlog.WithError(err).WithField("file", path).Warn("Skipping invalid plugin metadata.")
		return nil
	}
	plog := hlog.WithPlugin(meta.ID.String())
	if _, loaded := h.plugins[meta.ID]; loaded {
		plog.Warn("Plugin already loaded, skipping duplicate metadata.")
		return nil
	}
	if err := checkAPIVersion(meta.APIVersion); err != nil {
		plog.WithError(err).Warn("Skipping plugin with incompatible API version.")
		return nil
	}
	factory, ok := lookupFactory(meta.ID)
	if !ok {
		plog.WithField("file", path).Warn("No implementation registered for plugin, skipping.")
		return nil
	}

	h.registry.RegisterPlugin(meta)

	configParams, err := h.loadPluginConfig(meta)
	if err != nil {
		plog.WithError(err).Warn("Unable to restore plugin configuration, using defaults.")
		configParams = types.Params{}
	}
	normalized, err := types.ValidateParams(meta.ParamTypes, configParams, false)
	if err != nil {
		plog.WithError(err).Warn("Persisted plugin configuration invalid, using defaults.")
		normalized, _ = types.ValidateParams(meta.ParamTypes, types.Params{}, false)
	}

	plugin := factory()
	if err := plugin.Init(ctx, meta, normalized); err != nil {
		plog.WithError(err).Error("Plugin initialization failed.")
		return errors.Wrapf(err, "plugin %s failed to initialize", meta.Name)
	}
	h.plugins[meta.ID] = &LoadedPlugin{Plugin: plugin, Metadata: meta, Config: normalized}
	plog.WithFields(logrus.Fields{"name": meta.Name, "classes": len(h.registry.ThingClassesOfPlugin(meta.ID))}).
		Info("Plugin loaded.")
	return nil
}

// checkAPIVersion enforces the "major equal, minor not newer" gate.
func checkAPIVersion(version string) error {
	parts := strings.SplitN(version, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed api version %q", version)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("malformed api version %q", version)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("malformed api version %q", version)
	}
	if major != apiVersionMajor {
		return fmt.Errorf("api major version %d incompatible with %d", major, apiVersionMajor)
	}
	if minor > apiVersionMinor {
		return fmt.Errorf("api minor version %d newer than supported %d", minor, apiVersionMinor)
	}
	return nil
}

// Plugin returns the loaded plugin with the given id.
func (h *Host) Plugin(id uuid.UUID) (*LoadedPlugin, bool) {
	p, ok := h.plugins[id]
	return p, ok
}

// Plugins lists all loaded plugins sorted by name.
func (h *Host) Plugins() []*LoadedPlugin {
	out := make([]*LoadedPlugin, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Name < out[j].Metadata.Name })
	return out
}

// StartMonitoringAuto kicks off auto-thing monitoring on every plugin.
// Called once the configured things have been restored so thingAdded
// always precedes events from auto things.
func (h *Host) StartMonitoringAuto() {
	for _, p := range h.plugins {
		p.StartMonitoringAuto()
	}
}

// SetPluginConfig validates, persists and applies new plugin
// configuration values.
func (h *Host) SetPluginConfig(pluginID uuid.UUID, params types.Params) types.ThingError {
	p, ok := h.plugins[pluginID]
	if !ok {
		return types.ThingErrorPluginNotFound
	}
	normalized, err := types.ValidateParams(p.Metadata.ParamTypes, p.Config.Merged(params), true)
	if err != nil {
		return types.FromValidationError(err)
	}
	if err := h.storePluginConfig(p.Metadata, normalized); err != nil {
		hlog.WithError(err).WithPlugin(pluginID.String()).Error("Unable to persist plugin configuration.")
	}
	p.Config = normalized
	p.SetConfiguration(normalized)
	if h.OnConfigChanged != nil {
		h.OnConfigChanged(pluginID, normalized)
	}
	return types.ThingErrorNoError
}

func (h *Host) storePluginConfig(meta *types.PluginMetadata, params types.Params) error {
	return h.store.Write(storage.RolePlugins, func(g storage.Group) error {
		pg := g.Group(pluginConfigGroup).Group(meta.ID.String())
		for _, pt := range meta.ParamTypes {
			value, ok := params[pt.ID]
			if !ok {
				continue
			}
			if err := pg.Put(pt.ID.String(), storage.TypedValue{Type: pt.Type, Value: value}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Host) loadPluginConfig(meta *types.PluginMetadata) (types.Params, error) {
	params := types.Params{}
	err := h.store.Read(storage.RolePlugins, func(g storage.Group) error {
		pg := g.Group(pluginConfigGroup).Group(meta.ID.String())
		keys, err := pg.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			id, err := uuid.Parse(key)
			if err != nil {
				continue
			}
			tv, ok, err := pg.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			value, err := tv.Decode()
			if err != nil {
				hlog.WithError(err).WithField("paramType", key).Warn("Dropping undecodable plugin config value.")
				continue
			}
			params[id] = value
		}
		return nil
	})
	return params, err
}

// WatchPluginDirs starts an fsnotify watcher over the plugin
// directories and logs metadata arriving after startup. Plugins are
// not hot-reloaded; the log line tells the operator a restart would
// pick the new metadata up.
func (h *Host) WatchPluginDirs() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "unable to create plugin directory watcher")
	}
	for _, dir := range h.cfg.PluginDirs {
		if err := watcher.Add(dir); err != nil {
			hlog.WithError(err).WithField("dir", dir).Warn("Unable to watch plugin directory.")
		}
	}
	h.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && strings.HasSuffix(event.Name, ".json") {
					hlog.WithField("file", event.Name).
						Info("Plugin metadata changed on disk, restart to apply.")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				hlog.WithError(err).Warn("Plugin directory watcher error.")
			}
		}
	}()
	return nil
}

// Shutdown stops the watcher and drops all plugin instances.
func (h *Host) Shutdown() {
	if h.watcher != nil {
		_ = h.watcher.Close()
		h.watcher = nil
	}
	h.plugins = map[uuid.UUID]*LoadedPlugin{}
}
