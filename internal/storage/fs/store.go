// Package fs implements core.StateStore over a plain directory of JSON
// files, one per logical key (job:<id>, result:<id>, deadletter:<id>).
// Suited to single-node deployments where a database is unwanted
// operational overhead.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/domain"
)

// Store is a filesystem-based implementation of core.StateStore.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// NewStore creates the base directory (if absent) and returns a Store
// rooted at it.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state store directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(kind, id string) string {
	// Colons are awkward in filenames on some filesystems; the kind/id
	// split plays the same role as the job:<id> / result:<id> logical key.
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_%s.json", kind, id))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	return nil
}

// SaveJob persists job under job:<job_id>, creating or overwriting.
func (s *Store) SaveJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("job", job.ID), job)
}

// GetJob returns the persisted job, or domain.ErrNotFound.
func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var job domain.Job
	if err := readJSON(s.path("job", jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// HasJob reports whether job:<job_id> exists without deserializing it.
func (s *Store) HasJob(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path("job", jobID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// SaveResult persists result under result:<job_id>. Results are
// write-once: a second call returns domain.ErrResultExists.
func (s *Store) SaveResult(_ context.Context, result *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.path("result", result.JobID)
	if _, err := os.Stat(p); err == nil {
		return domain.ErrResultExists
	}
	return writeJSON(p, result)
}

// GetResult returns the persisted result, or domain.ErrNotFound.
func (s *Store) GetResult(_ context.Context, jobID string) (*domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result domain.Result
	if err := readJSON(s.path("result", jobID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListByStatus scans every job record and returns those matching status.
// Concurrency is capped to avoid exhausting file descriptors on a large
// store.
func (s *Store) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.listByPrefix("job_")
	if err != nil {
		return nil, err
	}

	const maxConcurrency = 20
	sem := make(chan struct{}, maxConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var jobs []*domain.Job

	for _, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()

			var job domain.Job
			if err := readJSON(filepath.Join(s.baseDir, name), &job); err != nil {
				return
			}
			if job.Status != status {
				return
			}
			mu.Lock()
			jobs = append(jobs, &job)
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return jobs, nil
}

// SaveDeadLetter persists entry under deadletter:<id>.
func (s *Store) SaveDeadLetter(_ context.Context, entry *core.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("deadletter", entry.ID), entry)
}

// ListDeadLetters returns up to limit dead-letter entries (0 means
// unlimited), sorted most-recent first.
func (s *Store) ListDeadLetters(_ context.Context, limit int) ([]*core.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.listByPrefix("deadletter_")
	if err != nil {
		return nil, err
	}

	var entries []*core.DeadLetterEntry
	for _, name := range names {
		var e core.DeadLetterEntry
		if err := readJSON(filepath.Join(s.baseDir, name), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}

	sortDeadLettersDesc(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GetDeadLetter returns a single dead-letter entry, or domain.ErrNotFound.
func (s *Store) GetDeadLetter(_ context.Context, id string) (*core.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var e core.DeadLetterEntry
	if err := readJSON(s.path("deadletter", id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteDeadLetter removes a dead-letter entry.
func (s *Store) DeleteDeadLetter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path("deadletter", id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close is a no-op: the filesystem store holds no live resources.
func (s *Store) Close() error { return nil }

func (s *Store) listByPrefix(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading state store directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func sortDeadLettersDesc(entries []*core.DeadLetterEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].CreatedAt < entries[j].CreatedAt; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

var _ core.StateStore = (*Store)(nil)
