package queue

import (
	"sync"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// Lease is a worker's claim on a job. Err becomes non-nil once the lease is
// known to be lost, after which the holder must stop writing.
type Lease struct {
	Job      *models.WorkflowJob
	WorkerID string

	mu   sync.Mutex
	err  error
	lost chan struct{}
}

func newLease(job *models.WorkflowJob, workerID string) *Lease {
	return &Lease{Job: job, WorkerID: workerID, lost: make(chan struct{})}
}

// NewLease wraps an already-claimed job.
func NewLease(job *models.WorkflowJob, workerID string) *Lease {
	return newLease(job, workerID)
}

func (l *Lease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}

// Lost is closed when the lease is revoked.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// Revoke marks the lease lost. Only the first cause is kept.
func (l *Lease) Revoke(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return
	}

	if err == nil {
		err = persistence.ErrLockExpired
	}

	l.err = err
	close(l.lost)
}
