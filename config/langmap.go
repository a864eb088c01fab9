package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LangPair maps a service language code to the local code used in file
// names. Local codes may carry a script variant ("uz@Latn").
type LangPair struct {
	Service string
	Local   string
}

// LangMap is an ordered service → local language mapping.
//
// In YAML it is written as a mapping (`el_GR: el`) whose document order is
// kept. A sequence of codes (`[de, fr]`) maps every code to itself.
type LangMap []LangPair

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *LangMap) UnmarshalYAML(node *yaml.Node) error {
	var out LangMap
	seen := make(map[string]bool)
	add := func(service, local string, line int) error {
		service = strings.TrimSpace(service)
		local = strings.TrimSpace(local)
		if service == "" {
			return fmt.Errorf("line %d: empty language code", line)
		}
		if local == "" {
			local = service
		}
		if seen[service] {
			return fmt.Errorf("line %d: language %q listed twice", line, service)
		}
		seen[service] = true
		out = append(out, LangPair{Service: service, Local: local})
		return nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: language %q must map to a code", v.Line, k.Value)
			}
			local := v.Value
			if v.Tag == "!!null" {
				local = ""
			}
			if err := add(k.Value, local, k.Line); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: language list items must be codes", item.Line)
			}
			if err := add(item.Value, "", item.Line); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: languages must be a mapping or a list", node.Line)
	}

	*m = out
	return nil
}

// MarshalYAML implements yaml.Marshaler, writing the mapping form.
func (m LangMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range m {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Service},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Local},
		)
	}
	return node, nil
}

// Validate rejects empty codes and codes mapped twice. Two service codes
// sharing a local code would write the same files.
func (m LangMap) Validate() error {
	services := make(map[string]bool, len(m))
	locals := make(map[string]bool, len(m))
	for _, p := range m {
		if p.Service == "" || p.Local == "" {
			return fmt.Errorf("language pair %q: %q has an empty code", p.Service, p.Local)
		}
		if services[p.Service] {
			return fmt.Errorf("language %q listed twice", p.Service)
		}
		if locals[p.Local] {
			return fmt.Errorf("local language %q mapped twice", p.Local)
		}
		services[p.Service] = true
		locals[p.Local] = true
	}
	return nil
}

// Local returns the local code for a service code.
func (m LangMap) Local(service string) (string, bool) {
	for _, p := range m {
		if p.Service == service {
			return p.Local, true
		}
	}
	return "", false
}

// HasService reports whether the service code is mapped.
func (m LangMap) HasService(service string) bool {
	_, ok := m.Local(service)
	return ok
}

// Filter keeps the pairs whose service or local code is in codes. An empty
// codes list keeps everything.
func (m LangMap) Filter(codes []string) LangMap {
	if len(codes) == 0 {
		return m
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[strings.TrimSpace(c)] = true
	}
	var out LangMap
	for _, p := range m {
		if want[p.Service] || want[p.Local] {
			out = append(out, p)
		}
	}
	return out
}
