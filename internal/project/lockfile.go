// Package project implements the deployed tier: a working copy of collection
// artifacts plus a lockfile recording what was deployed and the per-file
// checksums at deploy time.
package project

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/starford/raido/internal/models"
)

// LockfileName is the lockfile's file name inside a project root.
const LockfileName = "artifacts.lock"

const lockfileVersion = 1

// Lockfile records every artifact deployed into a project. The per-file
// checksums captured at deploy time are the baseline local edits and
// collection updates are judged against.
type Lockfile struct {
	Version   int               `toml:"version"`
	Artifacts []*LockedArtifact `toml:"artifacts,omitempty"`
}

// LockedArtifact is one deployed artifact's record.
type LockedArtifact struct {
	Key             string            `toml:"key"`
	Collection      string            `toml:"collection"`
	ResolvedVersion string            `toml:"resolved_version,omitempty"`
	DeployedAt      time.Time         `toml:"deployed_at"`
	Files           map[string]string `toml:"files"`
}

// Identity parses the record's artifact key.
func (a *LockedArtifact) Identity() (models.Identity, error) {
	return models.ParseIdentity(a.Key)
}

// Find returns the record for id, or nil.
func (l *Lockfile) Find(id models.Identity) *LockedArtifact {
	key := id.String()
	for _, a := range l.Artifacts {
		if a.Key == key {
			return a
		}
	}
	return nil
}

// Set inserts or replaces the record for its key.
func (l *Lockfile) Set(rec *LockedArtifact) {
	for i, a := range l.Artifacts {
		if a.Key == rec.Key {
			l.Artifacts[i] = rec
			return
		}
	}
	l.Artifacts = append(l.Artifacts, rec)
}

// Remove deletes the record for id and reports whether it was present.
func (l *Lockfile) Remove(id models.Identity) bool {
	key := id.String()
	for i, a := range l.Artifacts {
		if a.Key == key {
			l.Artifacts = append(l.Artifacts[:i], l.Artifacts[i+1:]...)
			return true
		}
	}
	return false
}

func decodeLockfile(data []byte) (*Lockfile, error) {
	var l Lockfile
	if err := toml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("project: parse lockfile: %w", err)
	}
	if l.Version == 0 {
		l.Version = lockfileVersion
	}
	for _, a := range l.Artifacts {
		if _, err := a.Identity(); err != nil {
			return nil, fmt.Errorf("project: lockfile entry %q: %w", a.Key, err)
		}
	}
	return &l, nil
}

func encodeLockfile(l *Lockfile) ([]byte, error) {
	data, err := toml.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("project: encode lockfile: %w", err)
	}
	return data, nil
}
