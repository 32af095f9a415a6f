package deps

import (
	"github.com/jgivc/modsync/internal/entity"
)

// Baseline is required by every run: the protocol handshake definition.
var Baseline = entity.Dependency{Name: "C_CHECK_VERSION", Version: "1"}

// NewSet returns a dependency set seeded with the baseline definition.
func NewSet() entity.DependencySet {
	set := entity.DependencySet{}
	set.Add(Baseline)

	return set
}

// Merge adds declared definitions to set, skipping the raw sentinel.
func Merge(set entity.DependencySet, declared map[string]entity.DefVersions) {
	for name, versions := range declared {
		for _, ver := range versions {
			if ver == entity.RawVersion || ver == "" {
				continue
			}

			set.Add(entity.Dependency{Name: name, Version: ver})
		}
	}
}
