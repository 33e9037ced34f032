// Package meta models the meta.yaml descriptor that accompanies every
// example: student-facing file lists, the required execution backend and
// version-constrained dependencies on other examples.
package meta

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"
)

// Filename is the descriptor's name inside an example directory.
const Filename = "meta.yaml"

// ExecutionBackendRef names the backend an example must be tested with.
type ExecutionBackendRef struct {
	Slug    string `json:"slug"`
	Version string `json:"version,omitempty"`
}

// Properties is the student-template relevant part of the descriptor.
type Properties struct {
	// StudentTemplates seed submission files sharing their basename.
	StudentTemplates []string `json:"studentTemplates,omitempty"`
	// StudentSubmissionFiles must exist in the student template, filled
	// from a matching template or left empty.
	StudentSubmissionFiles []string `json:"studentSubmissionFiles,omitempty"`
	// AdditionalFiles are copied verbatim into the student directory.
	AdditionalFiles []string `json:"additionalFiles,omitempty"`
	// TestFiles go into the tester workspace, never to students.
	TestFiles []string `json:"testFiles,omitempty"`

	ExecutionBackend *ExecutionBackendRef `json:"executionBackend,omitempty"`
}

// Dependency references another example, optionally version-constrained.
type Dependency struct {
	Slug       string
	Constraint string
}

// UnmarshalJSON accepts either a bare slug string or {slug, version}.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	var slug string
	if err := yaml.UnmarshalStrict(data, &slug); err == nil {
		d.Slug = slug
		return nil
	}
	var obj struct {
		Slug    string `json:"slug"`
		Version string `json:"version"`
	}
	if err := yaml.UnmarshalStrict(data, &obj); err != nil {
		return fmt.Errorf("dependency must be a slug or {slug, version}: %w", err)
	}
	d.Slug = obj.Slug
	d.Constraint = obj.Version
	return nil
}

// Constraints parses the version constraint. An empty constraint matches
// every version. The "==" form is normalized to semver equality.
func (d *Dependency) Constraints() (*semver.Constraints, error) {
	raw := strings.TrimSpace(d.Constraint)
	if raw == "" {
		return semver.NewConstraint(">= 0.0.0")
	}
	raw = strings.TrimPrefix(raw, "==")
	c, err := semver.NewConstraint(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q for %s: %w", d.Constraint, d.Slug, err)
	}
	return c, nil
}

// Meta is the parsed descriptor.
type Meta struct {
	Kind  string `json:"kind,omitempty"`
	Slug  string `json:"slug"`
	Name  string `json:"name,omitempty"`
	Title string `json:"title,omitempty"`

	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	Properties       Properties   `json:"properties,omitempty"`
	TestDependencies []Dependency `json:"testDependencies,omitempty"`
}

// Parse decodes a meta.yaml document.
func Parse(data []byte) (*Meta, error) {
	m := &Meta{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", Filename, err)
	}
	if m.Slug == "" {
		return nil, fmt.Errorf("%s is missing the slug field", Filename)
	}
	return m, nil
}

// BackendSlug returns the required execution backend slug, or empty.
func (m *Meta) BackendSlug() string {
	if m.Properties.ExecutionBackend == nil {
		return ""
	}
	return m.Properties.ExecutionBackend.Slug
}

// DisplayName prefers name over title over slug.
func (m *Meta) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	if m.Title != "" {
		return m.Title
	}
	return m.Slug
}
