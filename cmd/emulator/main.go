// Command emulator is the process entrypoint: it loads configuration,
// constructs the Application (every engine, adapter, and background
// loop), starts it, and blocks until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	app "github.com/corestack-dev/corestack/internal/app"
	"github.com/corestack-dev/corestack/internal/config"
	"github.com/corestack-dev/corestack/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration document (JSON); overrides CORESTACK_CONFIG_FILE")
	logLevel := flag.String("log-level", "", "override the configured log level (trace|debug|info|warn|error)")
	flag.Parse()

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		if err := os.Setenv("CORESTACK_CONFIG_FILE", trimmed); err != nil {
			log.Fatalf("set CORESTACK_CONFIG_FILE: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	if trimmed := strings.TrimSpace(*logLevel); trimmed != "" {
		cfg.Global.LogLevel = trimmed
	}

	lg := logger.New(logger.LoggingConfig{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		Output: "stdout",
	})
	entry := lg.WithFields(logrus.Fields{"component": "emulator", "env": string(cfg.Env)})

	application, err := app.New(cfg, entry)
	if err != nil {
		log.Fatalf("construct application: %v", err)
	}

	rootCtx := context.Background()
	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	entry.Info("corestack emulator started")
	for name, svcCfg := range cfg.Services {
		if svcCfg.Enabled {
			entry.WithField("service", name).Infof("listening on %s", fmt.Sprintf(":%d", svcCfg.Port))
		}
	}
	entry.WithField("port", cfg.Global.ControlPlanePort).Info("control plane listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	entry.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	entry.Info("corestack emulator stopped")
}
