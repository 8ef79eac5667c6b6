package cache

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/config"
)

// ConnectionTracker is the sibling file connections.json (spec §4.4): last-
// connected timestamps per VM, using the same atomic-rename discipline as
// the metadata cache.
type ConnectionTracker struct {
	mu   sync.Mutex
	path string
}

func NewConnectionTracker(path string) *ConnectionTracker {
	return &ConnectionTracker{path: path}
}

func (t *ConnectionTracker) load() (map[string]time.Time, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return map[string]time.Time{}, nil
	}
	var out map[string]time.Time
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]time.Time{}, nil
	}
	return out, nil
}

func (t *ConnectionTracker) save(m map[string]time.Time) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return azerr.Wrap(azerr.InternalError, "marshal connections", err)
	}
	return config.AtomicWriteFile(t.path, data)
}

// RecordConnection stamps vmKey ("<rg>:<name>") with the current time.
func (t *ConnectionTracker) RecordConnection(vmKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.load()
	if err != nil {
		return err
	}
	m[vmKey] = time.Now()
	return t.save(m)
}

// LastConnected returns the last-recorded connection time for vmKey.
func (t *ConnectionTracker) LastConnected(vmKey string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.load()
	if err != nil {
		return time.Time{}, false
	}
	ts, ok := m[vmKey]
	return ts, ok
}
