// Package constants holds the named tunables shared by every simulation
// component. One Store is created per simulation and passed to each subsystem,
// which registers its own defaults at construction.
package constants

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Store struct {
	mu     sync.RWMutex
	values map[string]float64
}

func New() *Store {
	return &Store{values: make(map[string]float64)}
}

// FromMap builds a store seeded with values.
func FromMap(values map[string]float64) *Store {
	s := New()
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get returns the value for key, or def when the key is unset.
func (s *Store) Get(key string, def float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

func (s *Store) Set(key string, value float64) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Register stores def under key unless the key already holds a value.
// It reports whether the default was written.
func (s *Store) Register(key string, def float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false
	}
	s.values[key] = def
	return true
}

// RegisterAll registers every entry of defaults.
func (s *Store) RegisterAll(defaults map[string]float64) {
	for k, v := range defaults {
		s.Register(k, v)
	}
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every key/value pair.
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Merge overwrites the given keys and keeps every other key.
func (s *Store) Merge(values map[string]float64) {
	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	s.mu.Unlock()
}

// LoadJSON merges a JSON object of numbers into the store. On error the store
// is left untouched.
func (s *Store) LoadJSON(data []byte) error {
	values, err := decodeJSON(data)
	if err != nil {
		return err
	}
	s.Merge(values)
	return nil
}

// ExportJSON renders every key as an indented JSON object.
func (s *Store) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(s.Snapshot(), "", "  ")
}

// LoadFile merges a JSON, YAML or TOML file, picked by extension.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	values, err := Decode(filepath.Ext(path), data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	s.Merge(values)
	return nil
}

// Decode parses a flat key→number document in the format named by ext.
// Non-finite numbers are rejected.
func Decode(ext string, data []byte) (map[string]float64, error) {
	var values map[string]float64
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json", "":
		var err error
		if values, err = decodeJSON(data); err != nil {
			return nil, err
		}
	case "yaml", "yml":
		values = map[string]float64{}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("invalid constants yaml: %w", err)
		}
	case "toml":
		values = map[string]float64{}
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
			return nil, fmt.Errorf("invalid constants toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported constants format %q", ext)
	}
	if err := checkFinite(values); err != nil {
		return nil, err
	}
	return values, nil
}

func checkFinite(values map[string]float64) error {
	for k, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("constant %s must be a finite number", k)
		}
	}
	return nil
}

func decodeJSON(data []byte) (map[string]float64, error) {
	values := map[string]float64{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("invalid constants json: %w", err)
	}
	return values, nil
}

// Encode renders values in the format named by ext.
func Encode(ext string, values map[string]float64) ([]byte, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json", "":
		return json.MarshalIndent(values, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(values)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(values); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported constants format %q", ext)
	}
}
