package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	ManifestFileName = "manifest.json"

	// RawVersion marks a dependency that needs no auxiliary file.
	RawVersion = "raw"
)

type Manifest struct {
	Files              map[string]FileEntry   `json:"files"`
	Defs               map[string]DefVersions `json:"defs,omitempty"`
	ForceClean         bool                   `json:"force_clean,omitempty"`
	NoHashVerification bool                   `json:"no_hash_verification,omitempty"`
}

// FileEntry is either a bare hash string or {"hash": ..., "overwrite": ...} on the wire.
type FileEntry struct {
	Hash      string
	Overwrite bool
}

func (e *FileEntry) UnmarshalJSON(data []byte) error {
	var hash string
	if err := json.Unmarshal(data, &hash); err == nil {
		*e = FileEntry{Hash: hash, Overwrite: true}

		return nil
	}

	var obj struct {
		Hash      string `json:"hash"`
		Overwrite *bool  `json:"overwrite"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("cannot parse file entry: %w", err)
	}

	*e = FileEntry{Hash: obj.Hash, Overwrite: obj.Overwrite == nil || *obj.Overwrite}

	return nil
}

func (e FileEntry) MarshalJSON() ([]byte, error) {
	if e.Overwrite {
		return json.Marshal(e.Hash)
	}

	return json.Marshal(struct {
		Hash      string `json:"hash"`
		Overwrite bool   `json:"overwrite"`
	}{e.Hash, false})
}

// DefVersions accepts a single version or a list, numbers or strings.
type DefVersions []string

func (v *DefVersions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("cannot parse version list: %w", err)
		}

		versions := make(DefVersions, 0, len(items))
		for _, item := range items {
			ver, err := parseVersion(item)
			if err != nil {
				return err
			}
			versions = append(versions, ver)
		}
		*v = versions

		return nil
	}

	ver, err := parseVersion(data)
	if err != nil {
		return err
	}
	*v = DefVersions{ver}

	return nil
}

func parseVersion(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("cannot parse version %s: %w", string(data), err)
	}

	return n.String(), nil
}
