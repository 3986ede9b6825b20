package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/data"
	"road-state-gateway/internal/ingest"
)

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway answered %d: %s", e.Code, e.Body)
}

// Sender posts ingest batches to the gateway.
type Sender struct {
	url        string
	client     *http.Client
	newBackOff func() backoff.BackOff
	log        logrus.FieldLogger
}

func NewSender(url string, timeout time.Duration, log logrus.FieldLogger) *Sender {
	return &Sender{
		url:    url,
		client: &http.Client{Timeout: timeout},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		},
		log: log.WithField("component", "sender"),
	}
}

// Send posts items as one batch. Transport errors and 5xx answers are
// retried with exponential backoff; a 4xx answer fails immediately.
func (s *Sender) Send(ctx context.Context, items []data.IngestItem) ([]ingest.Result, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	var results []ingest.Result
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
			if resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		results = nil
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding gateway response: %w", err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("retry_in", wait).Warn("sending batch failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return results, nil
}
