package agent

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Graph is one selectable conversation graph.
type Graph struct {
	GraphID   string `json:"graph_id,omitempty"`
	UUID      string `json:"uuid,omitempty"`
	Name      string `json:"name"`
	AutoStart bool   `json:"auto_start,omitempty"`
	Nodes     []Node `json:"nodes,omitempty"`
}

// ID returns the graph's identifier, whichever field the backend filled.
func (g Graph) ID() string {
	if g.GraphID != "" {
		return g.GraphID
	}
	if g.UUID != "" {
		return g.UUID
	}
	return g.Name
}

// Node is one extension node of a graph.
type Node struct {
	Name     string                     `json:"name"`
	Addon    string                     `json:"addon,omitempty"`
	Property map[string]json.RawMessage `json:"property,omitempty"`
}

// GreetingScript is a canned line an operator can make the avatar say.
type GreetingScript struct {
	Name string `json:"name" yaml:"name"`
	Text string `json:"text" yaml:"text"`
}

// GreetingMap holds fallback greeting scripts keyed by graph id or name.
type GreetingMap map[string][]GreetingScript

const (
	mainControlNode     = "main_control"
	greetingScriptsProp = "greeting_scripts"
)

// FindGraph returns the graph whose ID() is id.
func FindGraph(graphs []Graph, id string) (Graph, bool) {
	for _, g := range graphs {
		if g.ID() == id {
			return g, true
		}
	}
	return Graph{}, false
}

// Greetings returns the graph's greeting scripts: its main_control node's
// greeting_scripts property if set, else fallback by graph id, else
// fallback by graph name.
func Greetings(g Graph, fallback GreetingMap) []GreetingScript {
	for _, n := range g.Nodes {
		if n.Name != mainControlNode {
			continue
		}
		raw, ok := n.Property[greetingScriptsProp]
		if !ok {
			break
		}
		var scripts []GreetingScript
		if err := json.Unmarshal(raw, &scripts); err == nil && scripts != nil {
			return scripts
		}
		break
	}

	if s, ok := fallback[g.ID()]; ok {
		return s
	}
	if g.Name != "" {
		if s, ok := fallback[g.Name]; ok {
			return s
		}
	}
	return nil
}

// LoadGreetings reads a fallback greeting map from a YAML file:
//
//	part2_AIReview:
//	  - name: Welcome
//	    text: 欢迎来到展厅
func LoadGreetings(path string) (GreetingMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read greeting scripts: %w", err)
	}
	return ParseGreetings(b)
}

// ParseGreetings decodes a YAML greeting map.
func ParseGreetings(b []byte) (GreetingMap, error) {
	m := GreetingMap{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse greeting scripts: %w", err)
	}
	return m, nil
}
