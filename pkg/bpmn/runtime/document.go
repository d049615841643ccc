// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// Document is the persisted form of a ProcessState.
// Active tokens are not stored, they are replayed from the path history.
type Document struct {
	Key       int64               `yaml:"key" json:"key,string"`
	Path      []PathEntry         `yaml:"path" json:"path"`
	Variables []VariableEntry     `yaml:"variables" json:"variables"`
	Arrivals  map[string][]string `yaml:"arrivals,omitempty" json:"arrivals,omitempty"`
}

// Export copies the full state, ignoring any running animation.
func (s *ProcessState) Export() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{
		Key:       s.Key,
		Path:      slices.Clone(s.path.entries),
		Variables: slices.Clone(s.variables),
	}
	if len(s.path.arrivals) > 0 {
		doc.Arrivals = map[string][]string{}
		for gatewayId, flows := range s.path.arrivals {
			doc.Arrivals[gatewayId] = slices.Clone(flows)
		}
	}
	return doc
}

// Import replaces the state with the document content. Nothing is dispatched:
// no signals are queued and no handler or observer runs.
func (s *ProcessState) Import(doc Document) error {
	for i, entry := range doc.Path {
		switch entry.Status {
		case StepStarted, StepSucceeded, StepFailed, StepJoined:
		default:
			return fmt.Errorf("path entry %d of element %s has unknown status %q", i, entry.ElementId, entry.Status)
		}
		if entry.ElementId == "" {
			return fmt.Errorf("path entry %d has no element id", i)
		}
	}
	path := newPath()
	path.entries = slices.Clone(doc.Path)
	for i := range path.entries {
		path.entries[i].Seq = i + 1
	}
	path.active = replayActive(path.entries)
	if doc.Arrivals != nil {
		path.arrivals = maps.Clone(doc.Arrivals)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Key = doc.Key
	s.path = path
	s.variables = slices.Clone(doc.Variables)
	for i := range s.variables {
		s.variables[i].Value = NormalizeValue(s.variables[i].Value)
	}
	return nil
}

// Save encodes the state into its YAML document form.
func (s *ProcessState) Save() ([]byte, error) {
	data, err := yaml.Marshal(s.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal process state: %w", err)
	}
	return data, nil
}

// Load replaces the state with a document produced by Save.
// A nil error means the state was reconstructed.
func (s *ProcessState) Load(data []byte) error {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal process state: %w", err)
	}
	return s.Import(doc)
}
