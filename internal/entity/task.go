package entity

import "encoding/json"

// FileTask describes one remote file that should end up at LocalPath.
type FileTask struct {
	ID           string
	LocalPath    string
	URL          string
	ExpectedHash string // Empty disables verification
	AuthParam    string
}

type FetchOutcome struct {
	ID  string
	OK  bool
	Err error
}

func (o FetchOutcome) MarshalJSON() ([]byte, error) {
	out := struct {
		ID    string `json:"id"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}{ID: o.ID, OK: o.OK}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}

	return json.Marshal(out)
}
