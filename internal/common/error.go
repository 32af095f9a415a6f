package common

import "fmt"

var (
	ErrNoMirrors            = fmt.Errorf("no mirrors configured")
	ErrMirrorsExhausted     = fmt.Errorf("all mirrors failed")
	ErrBadStatus            = fmt.Errorf("unexpected response status")
	ErrIntegrityMismatch    = fmt.Errorf("hash mismatch")
	ErrInvalidPath          = fmt.Errorf("invalid file path")
	ErrInvalidManifest      = fmt.Errorf("invalid manifest")
	ErrDescriptorNotFound   = fmt.Errorf("descriptor not found")
	ErrDescriptorInvalid    = fmt.Errorf("descriptor is invalid")
	ErrPlainFileUnit        = fmt.Errorf("unit is a plain file")
	ErrManifestRestartLimit = fmt.Errorf("descriptor changed too many times")
	ErrMalformedMappings    = fmt.Errorf("malformed region mappings")
	ErrSyncInProgress       = fmt.Errorf("sync process has already started")
	ErrReportNotFound       = fmt.Errorf("report not found")
)
