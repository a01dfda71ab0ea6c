// Package loopback is a small in-process Engine that routes pushed messages
// through per-route operations back to pull streams. It exists so the CLI
// and tests can drive a Session without a real decoding graph.
package loopback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/godec/internal/config"
)

// Route reads one push endpoint, applies Op and emits on Stream.
type Route struct {
	Name   string         `yaml:"name" json:"name"`
	Input  string         `yaml:"input" json:"input"`
	Stream string         `yaml:"stream" json:"stream"`
	Op     string         `yaml:"op" json:"op"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Topology is the route table plus the streams each pull endpoint may
// aggregate.
type Topology struct {
	Routes  []Route             `yaml:"routes" json:"routes"`
	Outputs map[string][]string `yaml:"outputs" json:"outputs"`
}

// LoadTopology reads a YAML (.yaml, .yml) or JSON topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var t Topology
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &t)
	default:
		err = json.Unmarshal(data, &t)
	}
	if err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the table on its own, before endpoints are bound.
func (t *Topology) Validate() error {
	if len(t.Routes) == 0 {
		return fmt.Errorf("topology has no routes")
	}
	names := make(map[string]bool)
	streams := make(map[string]string)
	for i, r := range t.Routes {
		if r.Name == "" || r.Input == "" || r.Stream == "" {
			return fmt.Errorf("route %d: name, input and stream are required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("route %q defined twice", r.Name)
		}
		names[r.Name] = true
		if other, ok := streams[r.Stream]; ok {
			return fmt.Errorf("stream %q produced by both %q and %q", r.Stream, other, r.Name)
		}
		streams[r.Stream] = r.Name
	}
	for ep, ss := range t.Outputs {
		for _, s := range ss {
			if _, ok := streams[s]; !ok {
				return fmt.Errorf("output %q lists stream %q that no route produces", ep, s)
			}
		}
	}
	return nil
}

// Route returns the route called name.
func (t *Topology) Route(name string) (*Route, bool) {
	for i := range t.Routes {
		if t.Routes[i].Name == name {
			return &t.Routes[i], true
		}
	}
	return nil, false
}

// Inputs returns every push endpoint some route reads, sorted.
func (t *Topology) Inputs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Routes {
		if !seen[r.Input] {
			seen[r.Input] = true
			out = append(out, r.Input)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyOverrides merges flat "<route>.<param>" keys into route params.
func (t *Topology) ApplyOverrides(flat map[string]any) error {
	for name, v := range config.Unflatten(flat) {
		params, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("override %q does not name a route parameter", name)
		}
		r, ok := t.Route(name)
		if !ok {
			return fmt.Errorf("override for unknown route %q", name)
		}
		if r.Params == nil {
			r.Params = make(map[string]any)
		}
		for k, pv := range config.Flatten(params) {
			r.Params[k] = pv
		}
	}
	return nil
}

// Bind checks that the endpoints a session registers exist in the table.
func (t *Topology) Bind(push []string, pull map[string][]string) error {
	inputs := make(map[string]bool)
	for _, in := range t.Inputs() {
		inputs[in] = true
	}
	for _, p := range push {
		if !inputs[p] {
			return fmt.Errorf("push endpoint %q is not the input of any route", p)
		}
	}
	for ep, streams := range pull {
		allowed, ok := t.Outputs[ep]
		if !ok {
			return fmt.Errorf("pull endpoint %q is not a topology output", ep)
		}
		for _, s := range streams {
			if !contains(allowed, s) {
				return fmt.Errorf("pull endpoint %q cannot aggregate stream %q", ep, s)
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
