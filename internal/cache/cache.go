// Package cache implements the Tiered VM Metadata Cache (spec §4.4): a
// leaf module (per spec §9's cache/governor acyclicity rule — cache has no
// upward dependency on the governor) persisting VM metadata to a single
// JSON document with independently-expiring tiers.
package cache

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/config"
)

const (
	ImmutableTTL = 24 * time.Hour
	MutableTTL   = 5 * time.Minute
	TmuxTTL      = 5 * time.Minute
)

// Immutable holds the VM Record attributes fixed at creation time.
type Immutable struct {
	Region    string    `json:"region"`
	Size      string    `json:"size"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
	Tags      map[string]string `json:"tags"`
}

// Mutable holds the attributes that change over a VM's lifetime.
type Mutable struct {
	PowerState        clouddriver.PowerState `json:"power_state"`
	PublicIP          string                 `json:"public_ip"`
	PrivateIP         string                 `json:"private_ip"`
	ProvisioningState string                 `json:"provisioning_state"`
}

// Entry is the VM Cache Entry of spec §3: a VM Record plus three
// independent expiry timestamps, one per tier.
type Entry struct {
	ResourceGroup string    `json:"resource_group"`
	Name          string    `json:"name"`
	Immutable     Immutable `json:"immutable"`
	Mutable       Mutable   `json:"mutable"`
	TmuxSessions  []string  `json:"tmux_sessions"`

	ImmutableTS time.Time `json:"immutable_ts"`
	MutableTS   time.Time `json:"mutable_ts"`
	TmuxTS      time.Time `json:"tmux_ts"`
}

func key(rg, name string) string { return rg + ":" + name }

// Key returns this entry's cache key, "<rg>:<name>".
func (e Entry) Key() string { return key(e.ResourceGroup, e.Name) }

func (e Entry) immutableExpired(now time.Time) bool {
	return e.ImmutableTS.IsZero() || now.Sub(e.ImmutableTS) > ImmutableTTL
}

func (e Entry) mutableExpired(now time.Time) bool {
	return e.MutableTS.IsZero() || now.Sub(e.MutableTS) > MutableTTL
}

func (e Entry) tmuxExpired(now time.Time) bool {
	return e.TmuxTS.IsZero() || now.Sub(e.TmuxTS) > TmuxTTL
}

// AnyTierFresh reports whether at least one tier has not expired, the
// predicate CleanupExpired uses to decide whether to keep an entry.
func (e Entry) AnyTierFresh(now time.Time) bool {
	return !e.immutableExpired(now) || !e.mutableExpired(now) || !e.tmuxExpired(now)
}

// Expiry annotates which tiers of an entry are currently expired, for
// callers deciding what to re-fetch from the Cloud Driver.
type Expiry struct {
	ImmutableExpired bool
	MutableExpired   bool
	TmuxExpired      bool
}

// GetResult bundles an entry with its tier-expiry annotation.
type GetResult struct {
	Entry  Entry
	Expiry Expiry
	Found  bool
}

// Store is the in-memory + on-disk cache. Each public operation holds mu
// while it load-modify-stores against the file, so operations within one
// process are serialized; across processes, consistency is delegated to
// the atomic rename (last writer wins), which is acceptable for cache data
// per spec §5.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (without yet reading) the cache file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (map[string]Entry, error) {
	if info, statErr := os.Stat(s.path); statErr == nil {
		if info.Mode().Perm() != 0o600 {
			log.WithField("path", s.path).Warn("cache file had insecure permissions, repairing to 0600")
			_ = os.Chmod(s.path, 0o600)
		}
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return map[string]Entry{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.WithError(err).Warn("vm_list_cache.json malformed, degrading to empty cache")
		return map[string]Entry{}, nil
	}

	out := make(map[string]Entry, len(raw))
	for k, v := range raw {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			log.WithField("key", k).WithError(err).Warn("skipping malformed cache entry")
			continue
		}
		out[k] = e
	}
	return out, nil
}

func (s *Store) save(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return azerr.Wrap(azerr.InternalError, "marshal cache", err)
	}
	return config.AtomicWriteFile(s.path, data)
}

// Get returns the entry for (rg, name) if present, annotated with which
// tiers are expired.
func (s *Store) Get(rg, name string) (GetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return GetResult{}, err
	}
	e, ok := entries[key(rg, name)]
	if !ok {
		return GetResult{Found: false}, nil
	}
	now := time.Now()
	return GetResult{
		Entry: e,
		Expiry: Expiry{
			ImmutableExpired: e.immutableExpired(now),
			MutableExpired:   e.mutableExpired(now),
			TmuxExpired:      e.tmuxExpired(now),
		},
		Found: true,
	}, nil
}

// validateRunningHasIP enforces spec §3's invariant: a VM Record is never
// cached without at least one IP field populated if its power state is
// running.
func validateRunningHasIP(m Mutable) error {
	if m.PowerState == clouddriver.PowerRunning && m.PublicIP == "" && m.PrivateIP == "" {
		return azerr.New(azerr.InternalError, "refusing to cache a running VM with no IP (driver bug)")
	}
	return nil
}

// SetImmutable writes only the immutable tier, leaving the mutable tier
// (and its timestamp) untouched.
func (s *Store) SetImmutable(rg, name string, data Immutable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	k := key(rg, name)
	e := entries[k]
	e.ResourceGroup, e.Name = rg, name
	e.Immutable = data
	e.ImmutableTS = time.Now()
	entries[k] = e
	return s.save(entries)
}

// SetMutable writes only the mutable tier.
func (s *Store) SetMutable(rg, name string, data Mutable) error {
	if err := validateRunningHasIP(data); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	k := key(rg, name)
	e := entries[k]
	e.ResourceGroup, e.Name = rg, name
	e.Mutable = data
	e.MutableTS = time.Now()
	entries[k] = e
	return s.save(entries)
}

// SetFull writes both tiers in a single call, marking both fresh at the
// same instant — preferred by concurrent callers over the two-step
// SetImmutable+SetMutable per spec §5.
func (s *Store) SetFull(rg, name string, imm Immutable, mut Mutable) error {
	if err := validateRunningHasIP(mut); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	now := time.Now()
	k := key(rg, name)
	entries[k] = Entry{
		ResourceGroup: rg, Name: name,
		Immutable: imm, Mutable: mut,
		ImmutableTS: now, MutableTS: now,
	}
	return s.save(entries)
}

// SetTmux writes only the tmux session list tier.
func (s *Store) SetTmux(rg, name string, sessions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	k := key(rg, name)
	e := entries[k]
	e.ResourceGroup, e.Name = rg, name
	e.TmuxSessions = sessions
	e.TmuxTS = time.Now()
	entries[k] = e
	return s.save(entries)
}

// Delete removes one entry; deleting an absent entry is a no-op.
func (s *Store) Delete(rg, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	delete(entries, key(rg, name))
	return s.save(entries)
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(map[string]Entry{})
}

// CleanupExpired removes every entry whose tiers are all expired,
// preserving any entry with at least one non-expired tier (spec §8).
func (s *Store) CleanupExpired() (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	kept := make(map[string]Entry, len(entries))
	for k, e := range entries {
		if e.AnyTierFresh(now) {
			kept[k] = e
		} else {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(kept)
}

// GetByResourceGroup returns every entry belonging to rg, sorted by name.
func (s *Store) GetByResourceGroup(rg string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []Entry
	prefix := rg + ":"
	for k, e := range entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
