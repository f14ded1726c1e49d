// Package tools loads the tool manifest declared to the model at session
// setup. A default manifest for the Blue assistant is embedded; a YAML file
// with the same shape can replace it.
package tools

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-blue/pkg/live"
)

//go:embed manifest.yaml
var defaultManifest []byte

// Manifest is the set of tools and the system instruction sent on setup.
type Manifest struct {
	Version int `yaml:"version" json:"version"`

	// Instructions is the default system instruction.
	Instructions string `yaml:"instructions" json:"instructions"`

	// CodeExecution enables the endpoint's code execution tool.
	CodeExecution bool `yaml:"code_execution" json:"code_execution"`

	Tools []live.Tool `yaml:"tools" json:"tools"`
}

// Default returns the embedded manifest.
func Default() (*Manifest, error) {
	return Parse(defaultManifest)
}

// Load reads a manifest from path. An empty path returns the default.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse tool manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names and parameter schemas.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Tools))
	for i, t := range m.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tool %s: declared twice", t.Name)
		}
		seen[t.Name] = true

		if t.Parameters == nil {
			continue
		}
		if t.Parameters.Type != live.TypeObject {
			return fmt.Errorf("tool %s: parameters must be OBJECT, got %q", t.Name, t.Parameters.Type)
		}
		for _, req := range t.Parameters.Required {
			if _, ok := t.Parameters.Properties[req]; !ok {
				return fmt.Errorf("tool %s: required parameter %q is not declared", t.Name, req)
			}
		}
		if err := validateSchema(t.Name, t.Parameters); err != nil {
			return err
		}
	}
	return nil
}

var validTypes = map[string]bool{
	live.TypeObject:  true,
	live.TypeString:  true,
	live.TypeNumber:  true,
	live.TypeInteger: true,
	live.TypeBoolean: true,
	live.TypeArray:   true,
}

func validateSchema(tool string, s *live.Schema) error {
	if !validTypes[s.Type] {
		return fmt.Errorf("tool %s: unknown schema type %q", tool, s.Type)
	}
	if s.Type == live.TypeArray && s.Items == nil {
		return fmt.Errorf("tool %s: ARRAY schema needs items", tool)
	}
	if s.Items != nil {
		if err := validateSchema(tool, s.Items); err != nil {
			return err
		}
	}
	for _, p := range s.Properties {
		if p == nil {
			return fmt.Errorf("tool %s: empty property schema", tool)
		}
		if err := validateSchema(tool, p); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the tool names in declaration order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Tools))
	for _, t := range m.Tools {
		names = append(names, t.Name)
	}
	return names
}

// Lookup returns the tool with the given name.
func (m *Manifest) Lookup(name string) (live.Tool, bool) {
	for _, t := range m.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return live.Tool{}, false
}

// Parameters returns the sorted parameter names of a tool.
func Parameters(t live.Tool) []string {
	if t.Parameters == nil {
		return nil
	}
	names := make([]string, 0, len(t.Parameters.Properties))
	for name := range t.Parameters.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply copies the manifest's tools into setup. A non-empty setup system
// instruction is kept.
func (m *Manifest) Apply(setup *live.Setup) {
	setup.Tools = append([]live.Tool(nil), m.Tools...)
	setup.CodeExecution = m.CodeExecution
	if setup.SystemInstruction == "" {
		setup.SystemInstruction = m.Instructions
	}
}
