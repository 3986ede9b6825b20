// cmd/agent/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/agent"
	"road-state-gateway/internal/config"
	"road-state-gateway/internal/logging"
)

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuring logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ac := cfg.Agent
	source := agent.NewFileDatasource(ac.AccelerometerFile, ac.GPSFile, ac.UserID)
	if err := source.StartReading(); err != nil {
		log.WithError(err).Fatal("starting datasource")
	}
	defer func() {
		if err := source.StopReading(); err != nil {
			log.WithError(err).Warn("stopping datasource")
		}
	}()

	sender := agent.NewSender(ac.GatewayURL, ac.RequestTimeout, log)
	a, err := agent.New(source, sender, ac.BatchSize, ac.Schedule, log)
	if err != nil {
		log.WithError(err).Error("configuring agent")
		return
	}
	log.WithFields(logrus.Fields{
		"gateway": ac.GatewayURL,
		"user_id": ac.UserID,
	}).Info("telemetry agent starting")
	if err := a.Run(ctx); err != nil {
		log.WithError(err).Error("agent stopped")
	}
}
