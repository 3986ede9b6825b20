// Package ingest turns batches of raw samples into persisted, classified
// records and fans each record out to the subscribers of its user.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/data"
	"road-state-gateway/internal/metrics"
	"road-state-gateway/internal/storage"
)

// Classifier labels a raw sample.
type Classifier interface {
	Sample(s data.RawSample) data.RoadState
}

// Publisher delivers a payload to the live subscribers of a user and
// reports how many accepted it. Delivery failures stay inside the publisher.
type Publisher interface {
	Publish(userID int64, payload []byte) int
}

// Result is the outcome of one ingested item.
type Result struct {
	Record    data.ProcessedRecord `json:"record"`
	Delivered int                  `json:"delivered"`
}

type Pipeline struct {
	store      storage.Store
	classifier Classifier
	publisher  Publisher
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
}

func New(store storage.Store, classifier Classifier, publisher Publisher, log logrus.FieldLogger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		log:        log.WithField("component", "ingest"),
		metrics:    m,
	}
}

// Ingest validates the whole batch, classifies items that carry no road
// state, persists all records in one atomic write and then publishes each
// record to its user in batch order.
//
// A *data.ValidationError means nothing was written. A storage error means
// nothing was written or published.
func (p *Pipeline) Ingest(ctx context.Context, items []data.IngestItem) ([]Result, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveIngest(time.Since(start)) }()

	fields := make([]data.RecordFields, len(items))
	for i, it := range items {
		if err := it.Validate(i); err != nil {
			p.metrics.IngestFailed("validation")
			return nil, err
		}
		state := it.RoadState
		if state == "" {
			state = p.classifier.Sample(it.AgentData)
		}
		fields[i] = it.AgentData.Fields(state)
	}
	if len(fields) == 0 {
		return []Result{}, nil
	}

	records, err := p.store.InsertBatch(ctx, fields)
	if err != nil {
		p.metrics.IngestFailed("storage")
		return nil, fmt.Errorf("persisting batch of %d: %w", len(fields), err)
	}

	results := make([]Result, len(records))
	for i, rec := range records {
		p.metrics.RecordIngested(string(rec.RoadState))
		results[i] = Result{Record: rec, Delivered: p.publish(rec)}
	}

	p.log.WithFields(logrus.Fields{
		"records":  len(records),
		"duration": time.Since(start),
	}).Debug("batch ingested")
	return results, nil
}

func (p *Pipeline) publish(rec data.ProcessedRecord) int {
	payload, err := json.Marshal(rec)
	if err != nil {
		// Unreachable for validated records.
		p.log.WithError(err).WithField("record_id", rec.ID).Error("encoding record for subscribers")
		return 0
	}
	n := p.publisher.Publish(rec.UserID, payload)
	p.log.WithFields(logrus.Fields{
		"record_id":  rec.ID,
		"user_id":    rec.UserID,
		"road_state": rec.RoadState,
		"delivered":  n,
	}).Debug("record published")
	return n
}

// Replace validates item and overwrites record id with it, classifying the
// sample when no road state is given. Replacements are not published.
func (p *Pipeline) Replace(ctx context.Context, id int64, item data.IngestItem) (data.ProcessedRecord, error) {
	if err := item.Validate(-1); err != nil {
		return data.ProcessedRecord{}, err
	}
	state := item.RoadState
	if state == "" {
		state = p.classifier.Sample(item.AgentData)
	}
	return p.store.Update(ctx, id, item.AgentData.Fields(state))
}
