package storage

import (
	"sync"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
)

// WriteBuffer holds pending creates and updates in arrival order
type WriteBuffer struct {
	mu      sync.Mutex
	creates []*domain.Job
	updates []*domain.JobUpdate
}

// NewWriteBuffer creates an empty buffer
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{}
}

// AddCreate appends a pending create
func (b *WriteBuffer) AddCreate(job *domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates = append(b.creates, job)
}

// AddUpdate appends a pending update
func (b *WriteBuffer) AddUpdate(update *domain.JobUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, update)
}

// TakeCreates removes and returns up to n creates from the front
func (b *WriteBuffer) TakeCreates(n int) []*domain.Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, len(b.creates))
	batch := make([]*domain.Job, n)
	copy(batch, b.creates[:n])
	b.creates = b.creates[n:]
	return batch
}

// TakeUpdates removes and returns up to n updates from the front
func (b *WriteBuffer) TakeUpdates(n int) []*domain.JobUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, len(b.updates))
	batch := make([]*domain.JobUpdate, n)
	copy(batch, b.updates[:n])
	b.updates = b.updates[n:]
	return batch
}

// RequeueCreates puts a failed batch back at the front
func (b *WriteBuffer) RequeueCreates(jobs []*domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates = append(append([]*domain.Job{}, jobs...), b.creates...)
}

// RequeueUpdates puts a failed batch back at the front, keeping its order
func (b *WriteBuffer) RequeueUpdates(updates []*domain.JobUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(append([]*domain.JobUpdate{}, updates...), b.updates...)
}

// RemoveCreate drops a create that has not been flushed yet
func (b *WriteBuffer) RemoveCreate(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, job := range b.creates {
		if job.RequestID == requestID {
			b.creates = append(b.creates[:i], b.creates[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of pending creates and updates
func (b *WriteBuffer) Len() (creates, updates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.creates), len(b.updates)
}
