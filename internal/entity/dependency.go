package entity

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
)

type Dependency struct {
	Name    string
	Version string
}

func (d Dependency) FileName() string {
	return d.Name + "." + d.Version + ".def"
}

type DependencySet map[Dependency]struct{}

func (s DependencySet) Add(d Dependency) {
	s[d] = struct{}{}
}

func (s DependencySet) Has(d Dependency) bool {
	_, exists := s[d]

	return exists
}

// Sorted returns the members ordered by name, then version.
func (s DependencySet) Sorted() []Dependency {
	deps := lo.Keys(s)
	slices.SortFunc(deps, func(a, b Dependency) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return cmp.Compare(a.Version, b.Version)
	})

	return deps
}
