// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ImportSourceKind discriminates an [ImportSource]'s variant, mirroring the
// externally-tagged representation of original_source/src/config.rs's
// ImportSource enum (#[serde(rename_all = "lowercase")]).
type ImportSourceKind string

const (
	ImportSourcePath    ImportSourceKind = "path"
	ImportSourcePoll    ImportSourceKind = "poll"
	ImportSourceOneshot ImportSourceKind = "oneshot"
)

// ImportPoll is the Poll variant's payload, matching config.rs's ImportUrl:
// a URL fetched over HTTP and an optional refresh interval in seconds (with
// no interval, [Stream] refetches every defaultPollInterval).
type ImportPoll struct {
	URL      string `json:"url" yaml:"url"`
	Interval *uint64 `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// ImportSource names where a configuration fragment comes from. Exactly one
// of Path, Poll, or Oneshot is meaningful, selected by Kind; this mirrors
// config.rs's enum without reaching for an interface (the three variants
// hold no behavior of their own, only data [Stream] dispatches on).
//
// The original's Storage variant (a pluggable disk-cache-backed source) is
// intentionally not ported: it needs the original's FileStorage layer,
// which is out of this core's scope (see DESIGN.md).
type ImportSource struct {
	Kind    ImportSourceKind `json:"kind" yaml:"-"`
	Path    string           `json:"path,omitempty" yaml:"-"`
	Poll    ImportPoll       `json:"poll,omitempty" yaml:"-"`
	Oneshot string           `json:"-" yaml:"-"`
}

// NewPathImportSource returns a [Path]-kind [ImportSource] reading path,
// re-read whenever the file changes on disk.
func NewPathImportSource(path string) ImportSource {
	return ImportSource{Kind: ImportSourcePath, Path: path}
}

// NewPollImportSource returns a [Poll]-kind [ImportSource] fetching url over
// HTTP, refetched every interval seconds (0 leaves Interval unset, so
// [Stream] refetches every defaultPollInterval).
func NewPollImportSource(url string, interval uint64) ImportSource {
	poll := ImportPoll{URL: url}
	if interval > 0 {
		poll.Interval = &interval
	}
	return ImportSource{Kind: ImportSourcePoll, Poll: poll}
}

// NewOneshotImportSource returns an in-memory [ImportSource] carrying
// content directly, used by tests.
func NewOneshotImportSource(content string) ImportSource {
	return ImportSource{Kind: ImportSourceOneshot, Oneshot: content}
}

// importSourceWire is the on-disk externally-tagged shape: at most one of
// the two keys (path, poll) is present, and a Oneshot source writes
// neither, following serde's default enum representation.
type importSourceWire struct {
	Path *string     `yaml:"path,omitempty"`
	Poll *ImportPoll `yaml:"poll,omitempty"`
}

// MarshalYAML implements [yaml.Marshaler]. Oneshot sources are in-memory
// only (config.rs tags the variant #[serde(skip)]) and are never written
// out; Marshal on a Oneshot source round-trips to an empty mapping.
func (s ImportSource) MarshalYAML() (interface{}, error) {
	switch s.Kind {
	case ImportSourcePath:
		return importSourceWire{Path: &s.Path}, nil
	case ImportSourcePoll:
		poll := s.Poll
		return importSourceWire{Poll: &poll}, nil
	case ImportSourceOneshot:
		return importSourceWire{}, nil
	default:
		return nil, fmt.Errorf("config: unknown import source kind %q", s.Kind)
	}
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (s *ImportSource) UnmarshalYAML(value *yaml.Node) error {
	var wire importSourceWire
	if err := value.Decode(&wire); err != nil {
		return fmt.Errorf("config: decoding import source: %w", err)
	}
	switch {
	case wire.Path != nil:
		*s = ImportSource{Kind: ImportSourcePath, Path: *wire.Path}
	case wire.Poll != nil:
		*s = ImportSource{Kind: ImportSourcePoll, Poll: *wire.Poll}
	default:
		return fmt.Errorf("config: import source has neither path nor poll")
	}
	return nil
}
