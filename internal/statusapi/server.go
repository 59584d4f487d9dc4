// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package statusapi serves the read-only HTTP status endpoints. It
// exposes hub state for operators and never mutates anything.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/newrelic/thinghub/internal/hub"
	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/types"
)

var slog = log.WithComponent("StatusServer")

const shutdownTimeout = 5 * time.Second

// Server is the status API server. It binds to localhost only.
type Server struct {
	hub     *hub.Hub
	version string
	started time.Time
	server  *http.Server
}

// New builds a status server over the given hub.
func New(h *hub.Hub, version string) *Server {
	return &Server{hub: h, version: version}
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()
	router.GET("/v1/status", s.status)
	router.GET("/v1/things", s.things)
	router.GET("/v1/rules", s.rules)
	router.GET("/v1/plugins", s.plugins)
	return router
}

// Start begins serving if the status server is enabled.
func (s *Server) Start() error {
	cfg := s.hub.Config()
	if !cfg.StatusServerEnabled {
		slog.Debug("Status server disabled.")
		return nil
	}
	s.started = time.Now()
	s.server = &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", cfg.StatusServerPort),
		Handler: s.routes(),
	}
	go func() {
		slog.WithField("addr", s.server.Addr).Info("Status server listening.")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.WithError(err).Error("Status server failed.")
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.WithError(err).Warn("Status server shutdown incomplete.")
	}
	s.server = nil
}

type statusPayload struct {
	Version     string `json:"version"`
	UptimeSec   int64  `json:"uptimeSec"`
	PluginCount int    `json:"pluginCount"`
	ThingCount  int    `json:"thingCount"`
	RuleCount   int    `json:"ruleCount"`
	PendingOps  int    `json:"pendingAsyncOps"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	payload := statusPayload{Version: s.version}
	if !s.started.IsZero() {
		payload.UptimeSec = int64(time.Since(s.started).Seconds())
	}
	s.hub.Do(func() {
		payload.PluginCount = len(s.hub.PluginHost().Plugins())
		payload.ThingCount = len(s.hub.ThingManager().Things())
		payload.RuleCount = len(s.hub.RuleEngine().Rules())
		payload.PendingOps = s.hub.ThingManager().Tracker().Pending()
	})
	writeJSON(w, payload)
}

type thingPayload struct {
	ID           uuid.UUID                 `json:"id"`
	Name         string                    `json:"name"`
	ThingClassID uuid.UUID                 `json:"thingClassId"`
	PluginID     uuid.UUID                 `json:"pluginId"`
	ParentID     string                    `json:"parentId,omitempty"`
	AutoCreated  bool                      `json:"autoCreated"`
	SetupStatus  string                    `json:"setupStatus"`
	SetupError   string                    `json:"setupError,omitempty"`
	SetupMessage string                    `json:"setupDisplayMessage,omitempty"`
	Params       types.Params              `json:"params,omitempty"`
	Settings     types.Params              `json:"settings,omitempty"`
	States       map[uuid.UUID]interface{} `json:"states,omitempty"`
}

func (s *Server) things(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	payload := []thingPayload{}
	s.hub.Do(func() {
		for _, t := range s.hub.ThingManager().Things() {
			entry := thingPayload{
				ID:           t.ID,
				Name:         t.Name,
				ThingClassID: t.ThingClassID,
				PluginID:     t.PluginID,
				AutoCreated:  t.AutoCreated,
				SetupStatus:  string(t.SetupStatus),
				SetupMessage: t.SetupDisplayMessage,
				Params:       t.Params,
				Settings:     t.Settings,
				States:       t.StateValues(),
			}
			if t.ParentID != uuid.Nil {
				entry.ParentID = t.ParentID.String()
			}
			if t.SetupStatus == types.SetupStatusFailed {
				entry.SetupError = string(t.SetupError)
			}
			payload = append(payload, entry)
		}
	})
	writeJSON(w, payload)
}

type rulePayload struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	Executable bool      `json:"executable"`
	Kind       string    `json:"kind"`
	Active     bool      `json:"active"`
}

func (s *Server) rules(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	payload := []rulePayload{}
	s.hub.Do(func() {
		engine := s.hub.RuleEngine()
		for _, r := range engine.Rules() {
			payload = append(payload, rulePayload{
				ID:         r.ID,
				Name:       r.Name,
				Enabled:    r.Enabled,
				Executable: r.Executable,
				Kind:       string(r.Kind()),
				Active:     engine.Active(r.ID),
			})
		}
	})
	writeJSON(w, payload)
}

type pluginPayload struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName"`
	ClassCount  int          `json:"classCount"`
	Config      types.Params `json:"config,omitempty"`
}

func (s *Server) plugins(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	payload := []pluginPayload{}
	locale := s.hub.Config().Locale
	s.hub.Do(func() {
		for _, p := range s.hub.PluginHost().Plugins() {
			payload = append(payload, pluginPayload{
				ID:          p.Metadata.ID,
				Name:        p.Metadata.Name,
				DisplayName: s.hub.Translator().Translate(p.Metadata.ID, locale, p.Metadata.DisplayName),
				ClassCount:  len(s.hub.Registry().ThingClassesOfPlugin(p.Metadata.ID)),
				Config:      p.Config,
			})
		}
	})
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.WithError(err).Warn("Unable to write status response.")
	}
}
