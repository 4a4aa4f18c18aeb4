// Package ingestion turns uploaded documents into searchable chunks in the vector index.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrQueueFull   = errors.New("ingestion queue is full")
	ErrClosed      = errors.New("ingestion dispatcher is closed")
	ErrStaleRun    = errors.New("ingestion run superseded by a newer run")
	ErrInvalidJob  = errors.New("invalid ingestion job")
	errWatchdogHit = errors.New("ingestion exceeded the maximum allowed duration")
)

// Job is one ingestion run of one document. Run is allocated by the document store
// when the run is accepted and guards every status write made on its behalf.
type Job struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
	SubjectID  string `json:"subject_id,omitempty"`
	FilePath   string `json:"file_path"`
	Run        int64  `json:"run"`
}

func (j Job) Validate() error {
	switch {
	case j.DocumentID == "":
		return fmt.Errorf("%w: missing document_id", ErrInvalidJob)
	case j.TenantID == "":
		return fmt.Errorf("%w: missing tenant_id", ErrInvalidJob)
	case j.FilePath == "":
		return fmt.Errorf("%w: missing file_path", ErrInvalidJob)
	case j.Run <= 0:
		return fmt.Errorf("%w: run must be positive", ErrInvalidJob)
	}
	return nil
}

func EncodeJob(j Job) ([]byte, error) {
	return sonic.Marshal(j)
}

func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := sonic.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Dispatcher accepts jobs for background execution. Submit returns once the job is
// queued; the outcome is observable only through the document status.
type Dispatcher interface {
	Submit(ctx context.Context, job Job) error
	Close() error
}

// Runner executes jobs. Fail records a terminal failure for a job that could not
// run to completion on its own (watchdog, panic, rejected submission).
type Runner interface {
	Run(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job, reason string) error
}
