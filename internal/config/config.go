// Package config reads the optional YAML file that supplies flag values.
//
// The file maps flag names to scalar values. Top-level keys apply to every
// command; a mapping named after a command (server, client, gateway) holds
// keys for that command only and wins over the top level:
//
//	log-level: info
//	client:
//	  cid: 16
//	  port: 5000
//	  output-dir: circuit_data
//	gateway:
//	  listen-addr: 127.0.0.1:8181
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sections recognized at the top level of a config file.
const (
	SectionServer  = "server"
	SectionClient  = "client"
	SectionGateway = "gateway"
)

// Values holds flag name to raw value, as written in the file.
type Values map[string]string

// Names returns the keys in sorted order.
func (v Values) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load reads path and returns the values that apply to section. Sections
// are applied in order, later ones overriding earlier ones.
func Load(path string, sections ...string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	values, err := Parse(data, sections...)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return values, nil
}

// Parse decodes a config document. An empty document yields no values.
func Parse(data []byte, sections ...string) (Values, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	values := Values{}
	if len(doc.Content) == 0 {
		return values, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}

	nested := map[string]*yaml.Node{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		name := strings.TrimSpace(key.Value)
		switch {
		case val.Kind == yaml.MappingNode && isSection(name):
			nested[name] = val
		case val.Kind == yaml.ScalarNode:
			values[name] = val.Value
		default:
			return nil, fmt.Errorf("line %d: %q must be a scalar value", val.Line, name)
		}
	}

	for _, section := range sections {
		node, ok := nested[section]
		if !ok {
			continue
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			name := strings.TrimSpace(key.Value)
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: %s.%s must be a scalar value", val.Line, section, name)
			}
			values[name] = val.Value
		}
	}
	return values, nil
}

func isSection(name string) bool {
	switch name {
	case SectionServer, SectionClient, SectionGateway:
		return true
	}
	return false
}
