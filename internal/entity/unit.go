package entity

import "encoding/json"

// Descriptor is the unit's module.json.
type Descriptor struct {
	Servers           []string        `json:"servers"`
	DRMKey            string          `json:"drmKey,omitempty"`
	DisableAutoUpdate bool            `json:"disableAutoUpdate,omitempty"`
	Options           json.RawMessage `json:"options,omitempty"`
	SupportURL        string          `json:"supportUrl,omitempty"`
}

// Unit is one independently versioned content package.
type Unit struct {
	Name           string
	Root           string // Directory all manifest paths are relative to
	DescriptorPath string // Path of module.json on disk, empty for units configured in code
	Descriptor     *Descriptor
}

// UnitResult is what a single pass over a unit's manifest produced.
type UnitResult struct {
	Defs            map[string]DefVersions
	Outcomes        []FetchOutcome
	ManifestChanged bool
}

func (r *UnitResult) Failed() []FetchOutcome {
	var failed []FetchOutcome
	for _, o := range r.Outcomes {
		if !o.OK {
			failed = append(failed, o)
		}
	}

	return failed
}
