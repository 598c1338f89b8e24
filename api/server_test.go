package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskmesh/cluster/dispatch"
	"github.com/taskmesh/cluster/events"
	"github.com/taskmesh/cluster/internal/observability"
)

// echoWorker immediately reports success for every task it is assigned,
// echoing the argument back as the result.
type echoWorker struct {
	d  *dispatch.Dispatcher
	id string
}

func (w *echoWorker) SendTaskAssignment(taskID, function string, arg []byte) error {
	go w.d.HandleTaskResult(w.id, taskID, json.RawMessage(arg))
	return nil
}

func newTestServer(t *testing.T) (*AdminAPIServer, *dispatch.Dispatcher) {
	t.Helper()
	hub := events.NewHub(8)
	d := dispatch.New(0, nil, hub)
	w := &echoWorker{d: d, id: "w1"}
	d.RegisterWorker("w1", "worker-one", "127.0.0.1:0", 4, w)

	health := observability.NewHealthChecker("test")
	metrics := observability.NewMetrics()
	s := NewAdminAPIServer(d, hub, health, metrics, 100, 100, zerolog.Nop())
	return s, d
}

func TestHandleSubmitJobReturnsOrderedResults(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"function":"identity","inputs":[1,2,3],"timeout_ms":2000}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleSubmitJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if string(resp.Results[0]) != "1" || string(resp.Results[2]) != "3" {
		t.Errorf("expected order-preserving results, got %v", resp.Results)
	}
}

func TestHandleSubmitJobRejectsInvalidRequest(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"function":"","inputs":[1],"timeout_ms":2000}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleSubmitJob(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleStatsReflectsRegisteredWorker(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	var stats dispatch.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.RegisteredWorkers != 1 {
		t.Errorf("expected 1 registered worker, got %d", stats.RegisteredWorkers)
	}
}

func TestHandleEventsStreamsMatchingJob(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?job_id=job-42", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleEvents(rec, req)
		close(done)
	}()

	// Give handleEvents a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	s.hub.PublishJobSubmitted("job-42", "square", 1)
	s.hub.PublishJobSubmitted("job-other", "square", 1)

	<-done

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	var found bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "job-42") {
			found = true
		}
		if strings.Contains(line, "job-other") {
			t.Errorf("expected job-other to be filtered out, got %s", line)
		}
	}
	if !found {
		t.Error("expected to see an event for job-42 in the stream")
	}
}
