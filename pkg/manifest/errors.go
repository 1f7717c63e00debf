package manifest

import "fmt"

// DiscoveryError is returned when the manifest prefix cannot be listed. It is
// fatal for a run.
type DiscoveryError struct {
	Prefix string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("could not list manifests under %q: %v", e.Prefix, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ParseError reports a single manifest that could not be read or decoded.
// The manifest is skipped.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid manifest %q: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
