package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-state-gateway/internal/data"
	"road-state-gateway/internal/ingest"
)

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileDatasourceWrapsAround(t *testing.T) {
	acc := writeFile(t, "accelerometer.csv", "X,Y,Z\n1,2,3\n4,5,6\n")
	gps := writeFile(t, "gps.csv", "longitude,latitude\n30.5,50.4\n")
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d := NewFileDatasource(acc, gps, 7)
	d.now = func() time.Time { return fixed }

	_, err := d.Read()
	require.ErrorIs(t, err, ErrNotReading)

	require.NoError(t, d.StartReading())
	defer d.StopReading()

	var xs []float64
	for i := 0; i < 5; i++ {
		s, err := d.Read()
		require.NoError(t, err)
		assert.Equal(t, int64(7), s.UserID)
		assert.Equal(t, 30.5, s.GPS.Longitude)
		assert.Equal(t, 50.4, s.GPS.Latitude)
		assert.Equal(t, fixed, s.Timestamp)
		xs = append(xs, s.Accelerometer.X)
	}
	assert.Equal(t, []float64{1, 4, 1, 4, 1}, xs)

	require.NoError(t, d.StopReading())
	require.NoError(t, d.StopReading())
	_, err = d.Read()
	assert.ErrorIs(t, err, ErrNotReading)
}

func TestFileDatasourceErrors(t *testing.T) {
	gps := writeFile(t, "gps.csv", "longitude,latitude\n1,2\n")

	t.Run("missing file", func(t *testing.T) {
		d := NewFileDatasource(filepath.Join(t.TempDir(), "nope.csv"), gps, 1)
		assert.Error(t, d.StartReading())
	})
	t.Run("header only", func(t *testing.T) {
		d := NewFileDatasource(writeFile(t, "a.csv", "X,Y,Z\n"), gps, 1)
		require.NoError(t, d.StartReading())
		defer d.StopReading()
		_, err := d.Read()
		assert.ErrorContains(t, err, "no data rows")
	})
	t.Run("not a number", func(t *testing.T) {
		d := NewFileDatasource(writeFile(t, "a.csv", "X,Y,Z\n1,abc,3\n"), gps, 1)
		require.NoError(t, d.StartReading())
		defer d.StopReading()
		_, err := d.Read()
		assert.ErrorContains(t, err, "column 2")
	})
	t.Run("wrong width", func(t *testing.T) {
		d := NewFileDatasource(writeFile(t, "a.csv", "X,Y,Z\n1,2\n"), gps, 1)
		require.NoError(t, d.StartReading())
		defer d.StopReading()
		_, err := d.Read()
		assert.Error(t, err)
	})
}

func fastSender(url string) *Sender {
	s := NewSender(url, time.Second, nullLogger())
	s.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return s
}

func sampleItems(n int) []data.IngestItem {
	items := make([]data.IngestItem, n)
	for i := range items {
		items[i] = data.IngestItem{AgentData: data.RawSample{
			UserID:    1,
			Timestamp: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		}}
	}
	return items
}

func TestSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		items, err := data.ParseBatch(body)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		results := make([]ingest.Result, len(items))
		for i, it := range items {
			results[i] = ingest.Result{Record: data.ProcessedRecord{ID: int64(i + 1), RecordFields: it.AgentData.Fields(data.RoadGood)}, Delivered: 1}
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(results)
	}))
	defer srv.Close()

	results, err := fastSender(srv.URL).Send(context.Background(), sampleItems(2))
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSenderClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := fastSender(srv.URL).Send(context.Background(), sampleItems(1))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSenderGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fastSender(srv.URL).Send(context.Background(), sampleItems(1))
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
}

type countingSource struct {
	n   int
	err error
}

func (s *countingSource) Read() (data.RawSample, error) {
	if s.err != nil {
		return data.RawSample{}, s.err
	}
	s.n++
	return data.RawSample{UserID: 1, Accelerometer: data.Accelerometer{X: float64(s.n)}, Timestamp: time.Now()}, nil
}

type recordingSender struct {
	mu      sync.Mutex
	batches [][]data.IngestItem
	err     error
}

func (s *recordingSender) Send(_ context.Context, items []data.IngestItem) ([]ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, items)
	return make([]ingest.Result, len(items)), nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestAgentTick(t *testing.T) {
	src := &countingSource{}
	snd := &recordingSender{}
	a, err := New(src, snd, 3, "@every 1s", nullLogger())
	require.NoError(t, err)

	require.NoError(t, a.Tick(context.Background()))
	require.Len(t, snd.batches, 1)
	batch := snd.batches[0]
	require.Len(t, batch, 3)
	for i, it := range batch {
		assert.Empty(t, it.RoadState, "the gateway classifies")
		assert.Equal(t, float64(i+1), it.AgentData.Accelerometer.X)
	}

	snd.err = errors.New("unreachable")
	assert.ErrorContains(t, a.Tick(context.Background()), "unreachable")

	src.err = io.ErrUnexpectedEOF
	assert.ErrorIs(t, a.Tick(context.Background()), io.ErrUnexpectedEOF)
}

func TestAgentRejectsBadSettings(t *testing.T) {
	_, err := New(&countingSource{}, &recordingSender{}, 0, "@every 1s", nullLogger())
	assert.Error(t, err)
	_, err = New(&countingSource{}, &recordingSender{}, 1, "every now and then", nullLogger())
	assert.Error(t, err)
}

func TestAgentRunSendsUntilCancelled(t *testing.T) {
	snd := &recordingSender{}
	a, err := New(&countingSource{}, snd, 2, "@every 1s", nullLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return snd.count() >= 2 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}
