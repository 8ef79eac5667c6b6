// Package opslog provides in-process operation/step lifecycle tracking,
// adapted from the teacher's database-backed joblog.Tracker down to what a
// single local CLI process needs: no persistence, just structured logging
// and an in-memory record any caller can inspect after the fact.
package opslog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Status mirrors joblog's job status enum, trimmed to what a CLI-scoped
// operation needs.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is one tracked operation or step.
type Record struct {
	ID        string
	Operation string
	ParentID  string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
	Fields    log.Fields
}

func (r Record) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

type ctxKey struct{}

// Tracker is the in-memory replacement for joblog.Tracker: same
// Start/End shape, no SQL handler.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{records: make(map[string]*Record)}
}

// Start begins a new operation or step, logs it, and returns a context
// carrying the new record's ID so nested calls can attach as children.
func (t *Tracker) Start(ctx context.Context, operation string, fields log.Fields) (context.Context, string) {
	id := uuid.New().String()
	parent, _ := ctx.Value(ctxKey{}).(string)

	rec := &Record{
		ID:        id,
		Operation: operation,
		ParentID:  parent,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Fields:    fields,
	}

	t.mu.Lock()
	t.records[id] = rec
	t.mu.Unlock()

	entry := log.WithFields(log.Fields{
		"op_id":     id,
		"operation": operation,
	})
	if parent != "" {
		entry = entry.WithField("parent_id", parent)
	}
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("operation started")

	return context.WithValue(ctx, ctxKey{}, id), id
}

// End closes the operation identified by id, recording outcome and
// duration, and logs the transition.
func (t *Tracker) End(id string, err error) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	rec.EndedAt = time.Now()
	rec.Err = err
	if err != nil {
		rec.Status = StatusFailed
	} else {
		rec.Status = StatusSucceeded
	}
	dup := *rec
	t.mu.Unlock()

	entry := log.WithFields(log.Fields{
		"op_id":     dup.ID,
		"operation": dup.Operation,
		"duration":  dup.Duration().String(),
		"status":    dup.Status,
	})
	if err != nil {
		entry.WithError(err).Warn("operation failed")
	} else {
		entry.Info("operation completed")
	}
}

// Get returns a snapshot of the record for id, if present.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// CurrentID extracts the nearest enclosing operation ID from ctx, if any.
func CurrentID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}
