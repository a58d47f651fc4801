// Package models defines the domain types for Raido.
package models

import (
	"fmt"
	"regexp"
	"strings"
)

// ArtifactType is the kind of reusable content unit an artifact holds.
type ArtifactType string

// Supported artifact types.
const (
	TypeSkill   ArtifactType = "skill"
	TypeCommand ArtifactType = "command"
	TypeAgent   ArtifactType = "agent"
	TypeTool    ArtifactType = "tool"
	TypeHook    ArtifactType = "hook"
)

// Types lists every supported artifact type in display order.
func Types() []ArtifactType {
	return []ArtifactType{TypeSkill, TypeCommand, TypeAgent, TypeTool, TypeHook}
}

// Valid reports whether t is one of the supported types.
func (t ArtifactType) Valid() bool {
	switch t {
	case TypeSkill, TypeCommand, TypeAgent, TypeTool, TypeHook:
		return true
	}
	return false
}

// Dir returns the tier directory holding artifacts of this type ("skills", …).
func (t ArtifactType) Dir() string {
	return string(t) + "s"
}

// PrimaryName returns the conventional primary content file name for the type
// ("SKILL.md", "COMMAND.md", …).
func (t ArtifactType) PrimaryName() string {
	return strings.ToUpper(string(t)) + ".md"
}

// nameRe constrains artifact names to the same vocabulary upstream registries
// use: lowercase, digits, and separators, starting with a letter or digit.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Identity is the stable, validated identity of one artifact within a
// collection. The canonical string form is "type:name". Construct through
// NewIdentity or ParseIdentity so malformed keys cannot circulate.
type Identity struct {
	Type ArtifactType
	Name string
}

// NewIdentity builds an Identity, validating both parts.
func NewIdentity(t ArtifactType, name string) (Identity, error) {
	if !t.Valid() {
		return Identity{}, fmt.Errorf("models: unknown artifact type %q", t)
	}
	if name == "" || len(name) > 128 || !nameRe.MatchString(name) {
		return Identity{}, fmt.Errorf("models: invalid artifact name %q", name)
	}
	return Identity{Type: t, Name: name}, nil
}

// ParseIdentity parses the canonical "type:name" form.
func ParseIdentity(s string) (Identity, error) {
	t, name, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("models: identity %q is not in type:name form", s)
	}
	return NewIdentity(ArtifactType(t), name)
}

// String returns the canonical "type:name" key.
func (id Identity) String() string {
	return string(id.Type) + ":" + id.Name
}

// IsZero reports whether id is the zero Identity.
func (id Identity) IsZero() bool {
	return id.Type == "" && id.Name == ""
}

// Path returns the artifact's directory relative to a tier root
// (e.g. "skills/pdf-parser").
func (id Identity) Path() string {
	return id.Type.Dir() + "/" + id.Name
}

// MarshalText encodes the identity as its canonical string, so identities
// embed cleanly in JSON, YAML, and TOML documents.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical string form, rejecting malformed keys.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
