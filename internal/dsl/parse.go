package dsl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a single YAML document into a RawDefinition, failing with
// *ParseError on malformed YAML or a missing required metadata field
// (apiVersion, kind, metadata.id, metadata.version).
func Parse(data []byte, sourcePath string) (RawDefinition, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return RawDefinition{}, &ParseError{Path: sourcePath, Reason: err.Error()}
	}
	if len(node.Content) == 0 {
		return RawDefinition{}, &ParseError{Path: sourcePath, Reason: "empty document"}
	}
	doc := node.Content[0]

	var def RawDefinition
	if err := doc.Decode(&def); err != nil {
		return RawDefinition{}, &ParseError{Path: sourcePath, Line: doc.Line, Column: doc.Column, Reason: err.Error()}
	}
	def.SourcePath = sourcePath

	if err := requireField(def.APIVersion != "", "apiVersion", doc); err != nil {
		return RawDefinition{}, err
	}
	if err := requireField(def.Kind != "", "kind", doc); err != nil {
		return RawDefinition{}, err
	}
	if err := requireField(def.Metadata.ID != "", "metadata.id", doc); err != nil {
		return RawDefinition{}, err
	}
	if err := requireField(def.Metadata.Version != 0, "metadata.version", doc); err != nil {
		return RawDefinition{}, err
	}

	return def, nil
}

func requireField(present bool, field string, doc *yaml.Node) error {
	if present {
		return nil
	}
	return &ParseError{Line: doc.Line, Column: doc.Column, Reason: fmt.Sprintf("%s is required", field)}
}

// DiscoverResult is the outcome of walking a definition tree: the
// definitions that parsed successfully, plus any per-file errors. One
// bad file never aborts discovery of the rest.
type DiscoverResult struct {
	Definitions []RawDefinition
	Errors      []error
}

// Discover walks rootDir (laid out as `{authority}/{entity}/{file}.yaml`)
// and parses every .yaml or .yml file it finds, at any depth,
// independently.
func Discover(rootDir string) DiscoverResult {
	var result DiscoverResult

	_ = filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", path, readErr))
			return nil
		}

		def, parseErr := Parse(data, path)
		if parseErr != nil {
			result.Errors = append(result.Errors, parseErr)
			return nil
		}
		result.Definitions = append(result.Definitions, def)
		return nil
	})

	return result
}
