// Package archive implements optional long-term result retention (spec
// §12.2): once a result is persisted to the process-private state store,
// the engine may additionally hand it to an Archiver for storage outside
// that store. Archival is best-effort; failures are logged, never
// surfaced as job failures.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/rezkam/jobengine/internal/domain"
)

// Archiver persists a terminal result for long-term retention. Archive
// must tolerate being called more than once for the same job (e.g. after
// a crash-and-retry of the archival step itself); overwriting is
// acceptable since results are immutable once built.
type Archiver interface {
	Archive(ctx context.Context, result *domain.Result) error
}

// NoopArchiver discards every result. Used when no archival destination is
// configured.
type NoopArchiver struct{}

// Archive does nothing.
func (NoopArchiver) Archive(context.Context, *domain.Result) error { return nil }

// GCSArchiver writes each archived result as a JSON object to a Google
// Cloud Storage bucket, named by job_id.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver builds a GCSArchiver over an authenticated client (e.g.
// via GOOGLE_APPLICATION_CREDENTIALS).
func NewGCSArchiver(ctx context.Context, bucketName string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucketName}, nil
}

func (a *GCSArchiver) objectName(jobID string) string {
	return fmt.Sprintf("results/%s.json", jobID)
}

// Archive writes result to <job_id>.json under the results/ prefix,
// overwriting any prior archive for the same job.
func (a *GCSArchiver) Archive(ctx context.Context, result *domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result for archival: %w", err)
	}

	obj := a.client.Bucket(a.bucket).Object(a.objectName(result.JobID))
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing archived result: %w", err)
	}
	return w.Close()
}

// Fetch retrieves a previously archived result. Not used by the engine's
// hot path (archival is write-only there); provided for operator tooling
// and tests.
func (a *GCSArchiver) Fetch(ctx context.Context, jobID string) (*domain.Result, error) {
	obj := a.client.Bucket(a.bucket).Object(a.objectName(jobID))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("reading archived result: %w", err)
	}
	defer r.Close()

	var result domain.Result
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding archived result: %w", err)
	}
	return &result, nil
}

var _ Archiver = (*GCSArchiver)(nil)
var _ Archiver = NoopArchiver{}
