package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const greetingsYAML = `
part2_AIReview:
  - name: Welcome
    text: 欢迎来到展厅
  - name: Intro
    text: 我是数字讲解员
voice_assistant:
  - name: Hello
    text: 你好
`

func TestGreetings_Priority(t *testing.T) {
	fallback, err := ParseGreetings([]byte(greetingsYAML))
	if err != nil {
		t.Fatalf("ParseGreetings: %v", err)
	}

	fromNode := Graph{
		GraphID: "part2_AIReview",
		Nodes: []Node{{
			Name:     "main_control",
			Property: map[string]json.RawMessage{"greeting_scripts": json.RawMessage(`[{"name":"Node","text":"来自节点"}]`)},
		}},
	}
	byID := Graph{GraphID: "part2_AIReview", Name: "other"}
	byName := Graph{UUID: "3f1c", Name: "voice_assistant"}
	none := Graph{GraphID: "unknown"}
	badNode := Graph{
		GraphID: "voice_assistant",
		Nodes:   []Node{{Name: "main_control", Property: map[string]json.RawMessage{"greeting_scripts": json.RawMessage(`"oops"`)}}},
	}

	tests := []struct {
		name  string
		graph Graph
		want  string
		count int
	}{
		{"node property wins", fromNode, "来自节点", 1},
		{"fallback by id", byID, "欢迎来到展厅", 2},
		{"fallback by name", byName, "你好", 1},
		{"malformed property falls back", badNode, "你好", 1},
		{"no scripts", none, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Greetings(tt.graph, fallback)
			if len(got) != tt.count {
				t.Fatalf("got %+v, want %d scripts", got, tt.count)
			}
			if tt.count > 0 && got[0].Text != tt.want {
				t.Errorf("first text = %q, want %q", got[0].Text, tt.want)
			}
		})
	}
}

func TestLoadGreetings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greetings.yaml")
	if err := os.WriteFile(path, []byte(greetingsYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadGreetings(path)
	if err != nil {
		t.Fatalf("LoadGreetings: %v", err)
	}
	if len(m["part2_AIReview"]) != 2 || m["part2_AIReview"][1].Name != "Intro" {
		t.Errorf("map = %+v", m)
	}

	if _, err := LoadGreetings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseGreetings([]byte("- not: a map")); err == nil {
		t.Error("expected error for non-map YAML")
	}
}

func TestFindGraph(t *testing.T) {
	graphs := []Graph{{GraphID: "a", Name: "A"}, {UUID: "b", Name: "B"}}
	if g, ok := FindGraph(graphs, "b"); !ok || g.Name != "B" {
		t.Errorf("FindGraph(b) = %+v, %v", g, ok)
	}
	if _, ok := FindGraph(graphs, "c"); ok {
		t.Error("FindGraph(c) should miss")
	}
}
