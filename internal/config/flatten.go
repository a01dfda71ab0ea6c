package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"session": {"lane_depth": 64}} becomes {"session.lane_depth": 64}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flatten(key, child, out)
		default:
			out[key] = v
		}
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
				continue
			}
			m, ok := current[part].(map[string]any)
			if !ok {
				m = make(map[string]any)
				current[part] = m
			}
			current = m
		}
	}
	return out
}

// ToMap converts cfg to a nested map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting of cfg keyed by its dotted name.
func ListValues(cfg *Config) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	return Flatten(m), nil
}

// Keys returns the dotted names of every setting, sorted.
func Keys() []string {
	values, _ := ListValues(Default())
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fileValues reads the file at path on top of the defaults, without
// environment overrides, so set never persists a value that came from env.
func fileValues(path string) (map[string]any, error) {
	cfg := Default()
	if err := readFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return ListValues(cfg)
}

// GetValue returns the value stored in the file at path for key.
func GetValue(path, key string) (any, error) {
	values, err := fileValues(path)
	if err != nil {
		return nil, err
	}
	v, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v, nil
}

// SetValue parses raw according to the type of key and writes it back to
// the file at path.
func SetValue(path, key, raw string) error {
	values, err := fileValues(path)
	if err != nil {
		return err
	}
	current, ok := values[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	var v any
	switch current.(type) {
	case bool:
		v, err = strconv.ParseBool(raw)
	case float64:
		v, err = strconv.ParseFloat(raw, 64)
	default:
		v = raw
	}
	if err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	values[key] = v

	data, err := json.Marshal(Unflatten(values))
	if err != nil {
		return err
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return Save(path, cfg)
}
