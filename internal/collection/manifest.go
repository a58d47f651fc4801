// Package collection implements the file-based artifact library tier: the
// manifest that is authoritative for metadata, and the content files
// alongside it.
package collection

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/models"
)

// ManifestFile is the manifest's file name inside a collection root.
const ManifestFile = "collection.yaml"

// Manifest is the durable record of a collection. Unknown keys are captured
// in Rest and written back on save, so hand-maintained manifests survive
// round trips.
type Manifest struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name,omitempty"`
	Artifacts []*Entry       `yaml:"artifacts"`
	Rest      map[string]any `yaml:",inline"`
}

// Entry is one artifact's record in the manifest.
type Entry struct {
	Name            string              `yaml:"name"`
	Type            models.ArtifactType `yaml:"type"`
	Source          string              `yaml:"source,omitempty"`
	VersionSpec     string              `yaml:"version,omitempty"`
	ResolvedVersion string              `yaml:"resolved_version,omitempty"`
	ResolvedHash    string              `yaml:"resolved_hash,omitempty"`
	ResolvedFiles   map[string]string   `yaml:"resolved_files,omitempty"`
	Tags            []string            `yaml:"tags,omitempty"`
	Description     string              `yaml:"description,omitempty"`
	Author          string              `yaml:"author,omitempty"`
	License         string              `yaml:"license,omitempty"`
	Rest            map[string]any      `yaml:",inline"`
}

// Identity returns the entry's validated identity.
func (e *Entry) Identity() (models.Identity, error) {
	return models.NewIdentity(e.Type, e.Name)
}

// HasTag reports whether the entry carries the given tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Find returns the entry matching id, or nil.
func (m *Manifest) Find(id models.Identity) *Entry {
	for _, e := range m.Artifacts {
		if e.Type == id.Type && e.Name == id.Name {
			return e
		}
	}
	return nil
}

// Remove deletes the entry matching id and reports whether it was present.
func (m *Manifest) Remove(id models.Identity) bool {
	for i, e := range m.Artifacts {
		if e.Type == id.Type && e.Name == id.Name {
			m.Artifacts = append(m.Artifacts[:i], m.Artifacts[i+1:]...)
			return true
		}
	}
	return false
}

// decodeManifest parses manifest bytes and validates entry identities so a
// malformed key never circulates past the load boundary.
func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("collection: parse manifest: %w", err)
	}
	for _, e := range m.Artifacts {
		if _, err := e.Identity(); err != nil {
			return nil, fmt.Errorf("collection: manifest entry %q/%q: %w", e.Type, e.Name, err)
		}
	}
	return &m, nil
}

// encodeManifest serializes the manifest back to YAML.
func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("collection: encode manifest: %w", err)
	}
	return data, nil
}
