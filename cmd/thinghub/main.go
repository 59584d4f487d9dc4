// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/thinghub/internal/hub"
	"github.com/newrelic/thinghub/internal/statusapi"
	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/storage"
)

// buildVersion is overridden at link time.
var buildVersion = "development"

var (
	configFile = flag.String("config", "", "configuration file path")
	logLevel   = flag.String("log_level", "", "override the configured log level")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.WithError(err).Error("Unable to load configuration.")
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	configureLogging(cfg)

	log.WithField("version", buildVersion).Info("Starting thinghub.")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Error("Unable to create the data directory.")
		os.Exit(1)
	}
	store, err := storage.OpenBolt(cfg.StorePath())
	if err != nil {
		log.WithError(err).Error("Unable to open the persistence store.")
		os.Exit(1)
	}
	if err := store.Migrate(); err != nil {
		log.WithError(err).Error("Unable to migrate the persistence store.")
		_ = store.Close()
		os.Exit(1)
	}

	h := hub.New(cfg, store)
	if err := h.Start(); err != nil {
		log.WithError(err).Error("Unable to start the hub.")
		_ = store.Close()
		os.Exit(1)
	}

	api := statusapi.New(h, buildVersion)
	if err := api.Start(); err != nil {
		log.WithError(err).Warn("Unable to start the status server.")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.WithField("signal", sig.String()).Info("Shutting down.")

	api.Stop()
	h.Stop()
}

func configureLogging(cfg *config.Config) {
	log.SetLevel(log.ParseLevel(cfg.LogLevel))
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
