// Package tags implements azlin's cloud-resource tagging convention (spec
// §6), supplemented from original_source/src/azlin/tag_manager.py: the
// session-name validation regex and the four well-known tag keys the core
// reads and writes.
package tags

import (
	"regexp"

	"github.com/vexxhost/azlin/internal/azerr"
)

const (
	ManagedBy   = "managed-by"
	ManagedByUs = "azlin"
	Keep        = "azlin:keep"
	Session     = "azlin-session"
	Environment = "environment"
	Production  = "production"
)

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateSessionName enforces the §6 session-identifier shape.
func ValidateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return azerr.New(azerr.ValidationError, "session name must match [A-Za-z0-9_-]{1,64}")
	}
	return nil
}

// IsManaged reports whether a tag set carries managed-by=azlin.
func IsManaged(t map[string]string) bool { return t[ManagedBy] == ManagedByUs }

// HasKeep reports whether a tag set opts a resource out of orphan cleanup.
func HasKeep(t map[string]string) bool { return t[Keep] == "true" }

// IsProduction reports whether a tag set marks a resource as production,
// which the Governor refuses to delete without an explicit override.
func IsProduction(t map[string]string) bool { return t[Environment] == Production }

// Provenance returns the standard tag set the Lifecycle Orchestrator
// applies to every resource it creates (spec §4.1 stage 8).
func Provenance(session string) map[string]string {
	t := map[string]string{ManagedBy: ManagedByUs}
	if session != "" {
		t[Session] = session
	}
	return t
}
