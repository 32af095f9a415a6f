package entity

import (
	"encoding/json"
	"time"
)

type UnitStatus string

const (
	UnitStatusSucceeded UnitStatus = "succeeded"
	UnitStatusLegacy    UnitStatus = "legacy"
	UnitStatusFailed    UnitStatus = "failed"
)

// RegionMapEntry is one region of mappings.json.
type RegionMapEntry struct {
	Version      int    `json:"version"`
	MajorPatch   int    `json:"major_patch"`
	MinorPatch   int    `json:"minor_patch"`
	ProtocolHash string `json:"protocol_hash"`
	SysmsgHash   string `json:"sysmsg_hash"`
}

type ProtocolInfo struct {
	Region     string `json:"region"`
	MajorPatch int    `json:"major_patch"`
	MinorPatch int    `json:"minor_patch"`
}

// ProtocolTable maps a protocol version to the region publishing it.
type ProtocolTable map[int]ProtocolInfo

type UnitOutcome struct {
	Name        string          `json:"name"`
	Status      UnitStatus      `json:"status"`
	SupportURL  string          `json:"support_url,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	Fetched     int             `json:"fetched,omitempty"`
	FailedFiles []FetchOutcome  `json:"failed_files,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"` // Descriptor options, passed through untouched
	Err         error           `json:"-"`
}

func (o UnitOutcome) MarshalJSON() ([]byte, error) {
	type plain UnitOutcome
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(o)}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}

	return json.Marshal(out)
}

type RunReport struct {
	ID                 string         `json:"id"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	DependenciesOK     bool           `json:"dependencies_ok"`
	ProtocolTable      ProtocolTable  `json:"protocol_table"`
	Self               *UnitOutcome   `json:"self,omitempty"`
	Succeeded          []UnitOutcome  `json:"succeeded"`
	Legacy             []UnitOutcome  `json:"legacy"`
	Failed             []UnitOutcome  `json:"failed"`
	DependencyFailures []FetchOutcome `json:"dependency_failures,omitempty"`
}

func (r *RunReport) Add(o UnitOutcome) {
	switch o.Status {
	case UnitStatusSucceeded:
		r.Succeeded = append(r.Succeeded, o)
	case UnitStatusLegacy:
		r.Legacy = append(r.Legacy, o)
	default:
		r.Failed = append(r.Failed, o)
	}
}

// Units returns every classified unit, in report order.
func (r *RunReport) Units() []UnitOutcome {
	units := make([]UnitOutcome, 0, len(r.Succeeded)+len(r.Legacy)+len(r.Failed))
	units = append(units, r.Succeeded...)
	units = append(units, r.Legacy...)

	return append(units, r.Failed...)
}
