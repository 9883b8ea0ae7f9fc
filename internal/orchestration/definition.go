package orchestration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// State types understood by the validator. The engine interprets them; this
// package only checks graph structure.
const (
	StateTask    = "Task"
	StatePass    = "Pass"
	StateChoice  = "Choice"
	StateWait    = "Wait"
	StateSucceed = "Succeed"
	StateFail    = "Fail"
)

// State is one step of a state graph
type State struct {
	Type     string         `yaml:"type" json:"Type"`
	Resource string         `yaml:"resource,omitempty" json:"Resource,omitempty"`
	Next     string         `yaml:"next,omitempty" json:"Next,omitempty"`
	End      bool           `yaml:"end,omitempty" json:"End,omitempty"`
	Choices  []Choice       `yaml:"choices,omitempty" json:"Choices,omitempty"`
	Default  string         `yaml:"default,omitempty" json:"Default,omitempty"`
	Seconds  int            `yaml:"seconds,omitempty" json:"Seconds,omitempty"`
	Params   map[string]any `yaml:"parameters,omitempty" json:"Parameters,omitempty"`
}

// Choice is a conditional transition of a Choice state
type Choice struct {
	Variable     string `yaml:"variable" json:"Variable"`
	StringEquals string `yaml:"stringEquals,omitempty" json:"StringEquals,omitempty"`
	Next         string `yaml:"next" json:"Next"`
}

// StateGraph is a declarative workflow
type StateGraph struct {
	Comment string           `yaml:"comment,omitempty" json:"Comment,omitempty"`
	StartAt string           `yaml:"startAt" json:"StartAt"`
	States  map[string]State `yaml:"states" json:"States"`
}

// Definition is a named state graph and the role executions run under
type Definition struct {
	Name    string     `yaml:"name" json:"name"`
	Graph   StateGraph `yaml:"graph" json:"graph"`
	RoleRef string     `yaml:"roleRef,omitempty" json:"role_ref,omitempty"`
}

// Validate checks that the graph is closed: the start state and every
// transition target exist and at least one state terminates
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("definition name is required")
	}
	g := d.Graph
	if len(g.States) == 0 {
		return fmt.Errorf("definition %s: no states", d.Name)
	}
	if _, ok := g.States[g.StartAt]; !ok {
		return fmt.Errorf("definition %s: startAt %q is not a state", d.Name, g.StartAt)
	}

	names := make([]string, 0, len(g.States))
	for name := range g.States {
		names = append(names, name)
	}
	sort.Strings(names)

	terminal := false
	for _, name := range names {
		st := g.States[name]
		targets := []string{st.Next, st.Default}
		for _, c := range st.Choices {
			targets = append(targets, c.Next)
		}
		for _, target := range targets {
			if target == "" {
				continue
			}
			if _, ok := g.States[target]; !ok {
				return fmt.Errorf("definition %s: state %q transitions to unknown state %q", d.Name, name, target)
			}
		}

		switch st.Type {
		case StateSucceed, StateFail:
			terminal = true
		case StateChoice:
			if len(st.Choices) == 0 {
				return fmt.Errorf("definition %s: choice state %q has no choices", d.Name, name)
			}
		case StateTask, StatePass, StateWait:
			if st.End {
				terminal = true
			} else if st.Next == "" {
				return fmt.Errorf("definition %s: state %q has neither next nor end", d.Name, name)
			}
		default:
			return fmt.Errorf("definition %s: state %q has unknown type %q", d.Name, name, st.Type)
		}
	}
	if !terminal {
		return fmt.Errorf("definition %s: no terminal state", d.Name)
	}
	return nil
}

// Digest is a stable hash of the graph and role, used to detect conflicting
// definitions registered under the same name
func (d Definition) Digest() (string, error) {
	// encoding/json writes map keys in sorted order
	b, err := json.Marshal(struct {
		Graph   StateGraph `json:"graph"`
		RoleRef string     `json:"role_ref"`
	}{d.Graph, d.RoleRef})
	if err != nil {
		return "", fmt.Errorf("marshal definition %s: %w", d.Name, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ParseDefinition decodes and validates a YAML definition
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadDefinition reads a YAML definition file
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinition(data)
}
