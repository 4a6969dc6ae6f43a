package tracestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture is the on-disk form of a store: a list of calls (each carrying
// its project_id) and objects keyed by ref.
type Fixture struct {
	Calls   []map[string]any `json:"calls" yaml:"calls"`
	Objects map[string]any   `json:"objects" yaml:"objects"`
}

// ParseFixture decodes a fixture. YAML is accepted when yamlFormat is set,
// JSON otherwise. Values are normalized to the shapes encoding/json
// produces (float64 numbers, string timestamps).
func ParseFixture(r io.Reader, yamlFormat bool) (*Fixture, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	if yamlFormat {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse fixture: %w", err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("parse fixture: %w", err)
		}
	}

	var f Fixture
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// LoadFixture reads a fixture file; .yaml and .yml files are read as YAML.
func LoadFixture(path string) (*Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	ext := strings.ToLower(filepath.Ext(path))
	return ParseFixture(fh, ext == ".yaml" || ext == ".yml")
}

// LoadFile replaces the store content with the fixture at path.
func (s *Store) LoadFile(path string) error {
	f, err := LoadFixture(path)
	if err != nil {
		return err
	}
	if err := s.Replace(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	calls, objects := s.Stats()
	s.logger.Info("fixture loaded", "path", path, "calls", calls, "objects", objects)
	return nil
}
