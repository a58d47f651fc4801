// Package diff compares artifact state across tiers, file by file, and
// reduces the comparison to one sync-state label. It is read-only: nothing
// here mutates a tier or the metadata cache.
package diff

import "fmt"

// Scope names an ordered tier pair. The first-named tier is the comparison's
// left side, the second the right side.
type Scope string

const (
	// ScopeSourceCollection compares upstream against the collection,
	// baselined on the manifest's resolved file hashes from the last pull.
	ScopeSourceCollection Scope = "source/collection"
	// ScopeProjectCollection compares a deployed copy against the
	// collection, baselined on the project lockfile from the last deploy.
	ScopeProjectCollection Scope = "project/collection"
	// ScopeSourceProject compares upstream against a deployed copy,
	// baselined on the collection's current files.
	ScopeSourceProject Scope = "source/project"
)

// Scopes returns every valid scope.
func Scopes() []Scope {
	return []Scope{ScopeSourceCollection, ScopeProjectCollection, ScopeSourceProject}
}

// ParseScope validates a scope token.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSourceCollection, ScopeProjectCollection, ScopeSourceProject:
		return Scope(s), nil
	}
	return "", fmt.Errorf("diff: unknown scope %q", s)
}

// NeedsProject reports whether the scope touches the project tier and so
// requires a project name in the query.
func (s Scope) NeedsProject() bool {
	return s == ScopeProjectCollection || s == ScopeSourceProject
}

// NeedsSource reports whether the scope touches the upstream tier.
func (s Scope) NeedsSource() bool {
	return s == ScopeSourceCollection || s == ScopeSourceProject
}

// UpstreamSide returns which side of the pair is upstream of the other:
// changes confined to it classify as outdated rather than modified.
func (s Scope) UpstreamSide() Origin {
	if s == ScopeProjectCollection {
		return OriginRight
	}
	return OriginLeft
}
