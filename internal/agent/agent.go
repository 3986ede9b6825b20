package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/data"
	"road-state-gateway/internal/ingest"
)

// Source yields raw samples one at a time.
type Source interface {
	Read() (data.RawSample, error)
}

// BatchSender delivers a batch of items to the gateway.
type BatchSender interface {
	Send(ctx context.Context, items []data.IngestItem) ([]ingest.Result, error)
}

type Agent struct {
	source    Source
	sender    BatchSender
	batchSize int
	schedule  string
	log       logrus.FieldLogger
}

func New(source Source, sender BatchSender, batchSize int, schedule string, log logrus.FieldLogger) (*Agent, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return &Agent{
		source:    source,
		sender:    sender,
		batchSize: batchSize,
		schedule:  schedule,
		log:       log.WithField("component", "agent"),
	}, nil
}

// Tick reads one batch from the source and sends it. Items carry no road
// state so the gateway classifies them.
func (a *Agent) Tick(ctx context.Context) error {
	items := make([]data.IngestItem, 0, a.batchSize)
	for len(items) < a.batchSize {
		s, err := a.source.Read()
		if err != nil {
			return fmt.Errorf("reading sample: %w", err)
		}
		items = append(items, data.IngestItem{AgentData: s})
	}

	results, err := a.sender.Send(ctx, items)
	if err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}
	delivered := 0
	for _, r := range results {
		delivered += r.Delivered
	}
	a.log.WithFields(logrus.Fields{
		"records":   len(results),
		"delivered": delivered,
	}).Info("batch sent")
	return nil
}

// Run sends one batch immediately and then one per schedule tick until ctx
// is cancelled. Ticks never overlap.
func (a *Agent) Run(ctx context.Context) error {
	logger := cron.PrintfLogger(a.log)
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(a.schedule, func() { a.tickLogged(ctx) }); err != nil {
		return fmt.Errorf("scheduling agent: %w", err)
	}

	a.tickLogged(ctx)
	c.Start()
	a.log.WithField("schedule", a.schedule).Info("agent started")

	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("agent stopped")
	return nil
}

func (a *Agent) tickLogged(ctx context.Context) {
	if err := a.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.WithError(err).Error("agent tick failed")
	}
}
