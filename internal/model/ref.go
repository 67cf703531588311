package model

import "strings"

// RefScheme classifies a media reference by its URI prefix. The engines use
// the scheme to decide whether a reference needs uploading before it can be
// written to the remote record.
type RefScheme int

const (
	// RefRemote is a durable reference into the blob store. Left as-is.
	RefRemote RefScheme = iota
	// RefInline is embedded inline data (data: URI). Uploaded, then
	// replaced with the resulting remote reference.
	RefInline
	// RefLocalFile is a path on the local filesystem. Validated, uploaded,
	// then replaced. A missing file is a permanent per-reference failure.
	RefLocalFile
	// RefUnknown is anything else. Left as-is.
	RefUnknown
)

// String returns a human-readable representation of the scheme.
func (s RefScheme) String() string {
	switch s {
	case RefRemote:
		return "remote"
	case RefInline:
		return "inline"
	case RefLocalFile:
		return "local-file"
	default:
		return "unknown"
	}
}

// ClassifyRef determines the scheme of a media reference.
func ClassifyRef(ref string) RefScheme {
	switch {
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return RefRemote
	case strings.HasPrefix(ref, "data:"):
		return RefInline
	case strings.HasPrefix(ref, "file://"), strings.HasPrefix(ref, "/"):
		return RefLocalFile
	default:
		return RefUnknown
	}
}

// LocalPath strips the file:// prefix from a local-file reference, leaving
// bare paths untouched.
func LocalPath(ref string) string {
	return strings.TrimPrefix(ref, "file://")
}
