// Command screamrouterd runs the ScreamRouter audio engine: UDP
// ingress is out of this binary's scope (spec.md Non-goals), but it
// loads a settings file, provisions the configured sinks/sources, and
// serves until an interrupt or termination signal arrives.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/netham45/screamrouter-sub013/internal/config"
	"github.com/netham45/screamrouter-sub013/internal/engine"
)

func main() {
	var (
		configFile       = pflag.StringP("config-file", "c", "screamrouter.yaml", "Settings file name (YAML).")
		timeshiftPort    = pflag.IntP("timeshift-port", "p", 16401, "Timeshift ingress port, passed to the engine and logged; no socket is opened for it.")
		timeshiftSeconds = pflag.Float64P("timeshift-seconds", "t", 5.0, "Timeshift buffer depth, in seconds.")
		logLevel         = pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
		help             = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "screamrouterd: networked real-time PCM audio router")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unrecognized log level, defaulting to info", "level", *logLevel)
	}

	settings := config.DefaultSettings()
	var sinks []config.SinkConfig
	var sources []config.SourceConfig
	if doc, err := config.LoadSettings(*configFile); err != nil {
		logger.Warn("no settings file loaded, using defaults", "path", *configFile, "err", err)
	} else {
		settings = doc.Settings
		sinks = doc.Sinks
		sources = doc.Sources
	}

	mgr := engine.New(logger)
	mgr.SetAudioSettings(settings)
	mgr.Initialize(*timeshiftPort, *timeshiftSeconds)

	for _, sc := range sinks {
		if err := mgr.AddSink(sc); err != nil {
			logger.Error("failed to add sink", "sink_id", sc.ID, "err", err)
		}
	}
	for _, sc := range sources {
		if _, err := mgr.ConfigureSource(sc); err != nil {
			logger.Error("failed to configure source", "tag", sc.Tag, "err", err)
		}
	}

	logger.Info("screamrouterd running", "sinks", len(sinks), "sources", len(sources))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	mgr.Shutdown()
}
