package dsl

import (
	"fmt"
	"strings"

	"github.com/degov/workflow-core/internal/kerrors"
)

// Fragment is the restricted set of NSID fragments §4.1 allows after `#`.
type Fragment string

const (
	FragmentWorkflow    Fragment = "workflow"
	FragmentPermissions Fragment = "permissions"
	FragmentCredential  Fragment = "credential"
	FragmentPlugin      Fragment = "plugin"
	FragmentTest        Fragment = "test"
)

func validFragment(f string) bool {
	if f == string(FragmentWorkflow) || f == string(FragmentPermissions) ||
		f == string(FragmentCredential) || f == string(FragmentPlugin) || f == string(FragmentTest) {
		return true
	}
	return strings.HasPrefix(f, "migration-") && len(f) > len("migration-")
}

// NSID is a namespaced identifier: {reverse-dns-authority}/{entity-kebab}[#{fragment}].
type NSID struct {
	Authority string // e.g. "de.berlin"
	Entity    string // kebab-case, e.g. "business-registration"
	Fragment  string // may be empty
}

func (n NSID) String() string {
	if n.Fragment == "" {
		return n.Authority + "/" + n.Entity
	}
	return n.Authority + "/" + n.Entity + "#" + n.Fragment
}

// ParseNSID validates and decomposes an NSID string. Authority segments
// must be lowercase `[a-z][a-z0-9-]*`, the authority must have at least
// two dot-separated segments, the entity must be kebab-case, and any
// fragment must be one of the documented set.
func ParseNSID(raw string) (NSID, error) {
	authorityAndRest := strings.SplitN(raw, "/", 2)
	if len(authorityAndRest) != 2 || authorityAndRest[0] == "" || authorityAndRest[1] == "" {
		return NSID{}, kerrors.NewValidationError("nsid", fmt.Sprintf("%q must have the form authority/entity[#fragment]", raw))
	}
	authority := authorityAndRest[0]
	rest := authorityAndRest[1]

	segments := strings.Split(authority, ".")
	if len(segments) < 2 {
		return NSID{}, kerrors.NewValidationError("nsid", fmt.Sprintf("%q authority needs at least two dot-separated segments", raw))
	}
	for _, seg := range segments {
		if !isLowerKebabSegment(seg) {
			return NSID{}, kerrors.NewValidationError("nsid", fmt.Sprintf("%q authority segment %q is not lowercase [a-z][a-z0-9-]*", raw, seg))
		}
	}

	entity := rest
	fragment := ""
	if idx := strings.IndexByte(rest, '#'); idx >= 0 {
		entity = rest[:idx]
		fragment = rest[idx+1:]
	}
	if !isLowerKebabSegment(entity) {
		return NSID{}, kerrors.NewValidationError("nsid", fmt.Sprintf("%q entity %q is not kebab-case", raw, entity))
	}
	if fragment != "" && !validFragment(fragment) {
		return NSID{}, kerrors.NewValidationError("nsid", fmt.Sprintf("%q fragment %q is not one of the documented set", raw, fragment))
	}

	return NSID{Authority: authority, Entity: entity, Fragment: fragment}, nil
}

func isLowerKebabSegment(s string) bool {
	if s == "" {
		return false
	}
	if s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		if !isLower && !isDigit && c != '-' {
			return false
		}
	}
	return true
}
