// Package roles answers "does the caller hold role X" for whichever
// front end is asking.
package roles

import (
	"fmt"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
)

// Provider reports role membership for one caller.
type Provider interface {
	HasRole(roleID string) bool
}

// Set is a Provider backed by a fixed list of role ids, as carried in a
// gateway token.
type Set map[string]struct{}

// NewSet builds a Set; empty ids are ignored.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s Set) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	_, ok := s[roleID]
	return ok
}

// Static grants every role or none. The operator CLI runs with All.
type Static bool

const (
	All  Static = true
	None Static = false
)

func (s Static) HasRole(string) bool { return bool(s) }

// Require returns common.ErrorForbidden unless p holds roleID.
func Require(p Provider, roleID string) error {
	if p == nil || !p.HasRole(roleID) {
		return fmt.Errorf("%w: role %s required", common.ErrorForbidden, roleID)
	}
	return nil
}
