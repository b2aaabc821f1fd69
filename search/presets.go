package search

import (
	"encoding/json"
	"fmt"
	"sort"
)

var presets = map[string]string{
	"email":        `[a-zA-Z0-9._%+-]+@\s?[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
	"us-phone":     `\b(?:\+?1[-.\s]?)*\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
	"uk-phone":     `(\(?\d{4,5}\)?\s\d{3,4}\s\d{4})`,
	"uk-phone-alt": `\d{5}\s\d{6}`,
	"uk-extension": `ext\s?(\d{5})`,
	"url":          `\b(?:https?://|www\.)[^\s<>]+(?:\.[^\s<>]+)+\b`,
}

// Preset returns the named built-in regex spec.
func Preset(name string) (Spec, error) {
	p, ok := presets[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown preset %q", name)
	}
	return Spec{Name: name, Kind: Regex, Pattern: p}, nil
}

// Presets lists the built-in preset names.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type specJSON struct {
	Spec
	Preset string `json:"preset,omitempty"`
	// CaseSensitive is the inverse spelling of ignoreCase and wins when set.
	CaseSensitive *bool `json:"caseSensitive,omitempty"`
}

// ParseSpecs decodes a JSON array of specs. An entry naming a preset takes
// its kind and pattern from it; its other fields still apply.
func ParseSpecs(data []byte) ([]Spec, error) {
	var raw []specJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse specs: %w", err)
	}
	out := make([]Spec, 0, len(raw))
	for i, r := range raw {
		s := r.Spec
		if r.CaseSensitive != nil {
			s.IgnoreCase = !*r.CaseSensitive
		}
		if r.Preset != "" {
			p, err := Preset(r.Preset)
			if err != nil {
				return nil, fmt.Errorf("spec %d: %w", i, err)
			}
			s.Kind, s.Pattern = p.Kind, p.Pattern
			if s.Name == "" {
				s.Name = p.Name
			}
		}
		if s.Pattern == "" {
			return nil, fmt.Errorf("spec %d: empty pattern", i)
		}
		out = append(out, s)
	}
	return out, nil
}
