// Package dsl parses the YAML definition files described in §6.1 into
// typed definitions and resolves multi-parent inheritance (§4.1) into a
// single canonical Workflow or DataModel per NSID.
package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind is the top-level `kind` discriminator every definition file
// declares. Only Workflow and DataModel participate in inheritance
// merge; the rest are parsed and validated but passed through untouched
// so discover() can share one walk of the directory tree across every
// file kind an authority declares.
type Kind string

const (
	KindService    Kind = "Service"
	KindDataModel  Kind = "DataModel"
	KindWorkflow   Kind = "Workflow"
	KindPermission Kind = "Permission"
	KindCredential Kind = "Credential"
	KindPlugin     Kind = "Plugin"
	KindMigration  Kind = "Migration"
	KindTest       Kind = "Test"
	KindDeployment Kind = "Deployment"
)

func (k Kind) mergeable() bool {
	return k == KindDataModel || k == KindWorkflow
}

// Metadata is the `metadata` block common to every file.
type Metadata struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Version     int      `yaml:"version"`
	Description string   `yaml:"description"`
	Authority   string   `yaml:"authority"`
	Inherits    []string `yaml:"inherits"`
}

// RawDefinition is the common envelope every YAML file parses into
// before kind-specific decoding of `spec`.
type RawDefinition struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       Kind      `yaml:"kind"`
	Metadata   Metadata  `yaml:"metadata"`
	Spec       yaml.Node `yaml:"spec"`

	// SourcePath records where this definition was loaded from, for error
	// messages and the cycle-path report.
	SourcePath string `yaml:"-"`
}

// NSID returns the decomposed identifier for this definition's metadata.id.
func (d RawDefinition) NSID() (NSID, error) {
	return ParseNSID(d.Metadata.ID)
}

// ParseError reports a malformed YAML file with line/column context,
// matching the structured ParseError{line,col,reason} the parse
// operation is specified to return.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	if e.Line == 0 {
		return e.Path + ": " + e.Reason
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Reason)
}
