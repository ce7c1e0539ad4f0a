package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/domain"
	"github.com/rezkam/jobengine/internal/engine"
	"github.com/rezkam/jobengine/internal/executor"
	"github.com/rezkam/jobengine/internal/metrics"
	"github.com/rezkam/jobengine/internal/pipeline"
	"github.com/rezkam/jobengine/internal/scheduler"
	"github.com/rezkam/jobengine/internal/shutdown"
)

// memStore is a minimal in-memory core.StateStore for HTTP-layer tests.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	results map[string]*domain.Result
	dlq     map[string]*core.DeadLetterEntry
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*domain.Job),
		results: make(map[string]*domain.Result),
		dlq:     make(map[string]*core.DeadLetterEntry),
	}
}

func (m *memStore) SaveJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *memStore) HasJob(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[id]
	return ok, nil
}

func (m *memStore) SaveResult(_ context.Context, result *domain.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[result.JobID]; ok {
		return domain.ErrResultExists
	}
	m.results[result.JobID] = result
	return nil
}

func (m *memStore) GetResult(_ context.Context, jobID string) (*domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return result, nil
}

func (m *memStore) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) SaveDeadLetter(_ context.Context, entry *core.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq[entry.ID] = entry
	return nil
}

func (m *memStore) ListDeadLetters(_ context.Context, limit int) ([]*core.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.DeadLetterEntry
	for _, e := range m.dlq {
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetDeadLetter(_ context.Context, id string) (*core.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dlq[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (m *memStore) DeleteDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dlq, id)
	return nil
}

func (m *memStore) Close() error { return nil }

var _ core.StateStore = (*memStore)(nil)

// syncBackend runs work synchronously and reports the outcome.
type syncBackend struct{}

func (syncBackend) Submit(ctx context.Context, work executor.Work) (<-chan executor.Outcome, error) {
	ch := make(chan executor.Outcome, 1)
	out, err := work.Run(ctx)
	ch <- executor.Outcome{Output: out, Err: err}
	return ch, nil
}

func (syncBackend) Shutdown(drain bool) {}

func (syncBackend) Halted() bool { return false }

type echoPipeline struct{}

func (echoPipeline) Run(_ context.Context, payload map[string]any) (any, error) {
	return payload, nil
}

func newTestServer(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	store := newMemStore()
	sched := scheduler.New()
	router := executor.NewRouter(syncBackend{}, syncBackend{}, syncBackend{})
	reg := pipeline.NewRegistry()
	reg.Register("echo", func() core.Pipeline { return echoPipeline{} })
	m := metrics.New()
	sd := shutdown.New()

	eng := engine.New(store, sched, router, reg, m, sd, engine.Config{
		PollInterval: 5 * time.Millisecond,
		Backoff:      func(int) time.Duration { return time.Millisecond },
	})

	go eng.Run(context.Background())
	t.Cleanup(func() { eng.Shutdown() })

	return NewHandler(eng, m, Config{}), eng
}

func TestServer_SubmitAndGetJob(t *testing.T) {
	handler, _ := newTestServer(t)

	body, _ := json.Marshal(submitJobRequest{
		JobID:      "job-1",
		Mode:       "thread",
		MaxRetries: 3,
		Payload:    map[string]any{"type": "echo"},
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		var resp jobStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Status == string(domain.StatusCompleted)
	}, time.Second, 5*time.Millisecond)
}

func TestServer_SubmitDuplicateJobIDConflicts(t *testing.T) {
	handler, eng := newTestServer(t)

	job := domain.NewJob("dup", 0, domain.ModeThread, 3, map[string]any{"type": "echo"}, time.Now())
	require.NoError(t, eng.Submit(context.Background(), job))

	body, _ := json.Marshal(submitJobRequest{JobID: "dup", Mode: "thread", MaxRetries: 3, Payload: map[string]any{"type": "echo"}})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_GetUnknownJobNotFound(t *testing.T) {
	handler, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MetricsSnapshot(t *testing.T) {
	handler, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MaxBodyBytesRejectsOversizedPayload(t *testing.T) {
	store := newMemStore()
	sched := scheduler.New()
	router := executor.NewRouter(syncBackend{}, syncBackend{}, syncBackend{})
	reg := pipeline.NewRegistry()
	m := metrics.New()
	sd := shutdown.New()
	eng := engine.New(store, sched, router, reg, m, sd, engine.Config{})
	t.Cleanup(func() { eng.Shutdown() })

	handler := NewHandler(eng, m, Config{MaxBodyBytes: 16})

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(make([]byte, 256)))
	req.ContentLength = 256
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
