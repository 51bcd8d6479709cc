// Package manifest reads YAML files that describe a batch of test
// definitions to create.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidManifest is returned when the manifest content is invalid.
	ErrInvalidManifest = errors.New("manifest: invalid manifest")
	// ErrManifestNotFound is returned when the manifest file does not exist.
	ErrManifestNotFound = errors.New("manifest: file not found")
)

// Manifest is a batch of definitions.
type Manifest struct {
	Definitions []Entry `yaml:"definitions"`

	// BaseDir resolves relative plan and CSV paths. LoadFromFile sets it to
	// the manifest's directory.
	BaseDir string `yaml:"-"`
}

// Entry describes one definition. ThreadGroup and Server are passed to the
// lenient configuration decoder, so they accept the same loose values as
// stored configurations do.
type Entry struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Plan         string         `yaml:"plan"`
	CSV          string         `yaml:"csv"`
	RequiresCSV  bool           `yaml:"requiresCsv"`
	Priority     int            `yaml:"priority"`
	ThreadGroup  map[string]any `yaml:"threadGroup"`
	Server       map[string]any `yaml:"server"`
	ServerPreset string         `yaml:"serverPreset"`
}

// Preset is a named server target defined outside the manifest.
type Preset struct {
	Protocol string
	Server   string
	Port     string
}

// PresetLookup resolves a serverPreset name.
type PresetLookup func(name string) (Preset, bool)

func LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	m.BaseDir = filepath.Dir(path)
	return m, nil
}

func LoadFromBytes(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Definitions) == 0 {
		return fmt.Errorf("%w: at least one definition is required", ErrInvalidManifest)
	}

	names := make(map[string]bool, len(m.Definitions))
	for i, d := range m.Definitions {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("%w: definitions[%d].name is required", ErrInvalidManifest, i)
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate definition name: %s", ErrInvalidManifest, name)
		}
		names[name] = true

		if d.Plan == "" {
			return fmt.Errorf("%w: definitions[%d].plan is required", ErrInvalidManifest, i)
		}
		if d.RequiresCSV && d.CSV == "" {
			return fmt.Errorf("%w: definitions[%d] requires a csv file", ErrInvalidManifest, i)
		}
	}
	return nil
}

// Path resolves a path from the manifest against BaseDir.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || m.BaseDir == "" {
		return p
	}
	return filepath.Join(m.BaseDir, p)
}

// ThreadGroupJSON returns the thread group settings as JSON text. An entry
// without settings yields "", which decodes to the defaults.
func (e Entry) ThreadGroupJSON() (string, error) {
	if len(e.ThreadGroup) == 0 {
		return "", nil
	}
	return encode(e.ThreadGroup)
}

// ServerJSON returns the server settings as JSON text. Keys given inline
// override those of the named preset.
func (e Entry) ServerJSON(lookup PresetLookup) (string, error) {
	merged := make(map[string]any, 3+len(e.Server))
	if e.ServerPreset != "" {
		if lookup == nil {
			return "", fmt.Errorf("%w: %s: server presets are not configured", ErrInvalidManifest, e.Name)
		}
		p, ok := lookup(e.ServerPreset)
		if !ok {
			return "", fmt.Errorf("%w: %s: unknown server preset %q", ErrInvalidManifest, e.Name, e.ServerPreset)
		}
		merged["protocol"] = p.Protocol
		merged["server"] = p.Server
		merged["port"] = p.Port
	}
	for k, v := range e.Server {
		merged[k] = v
	}
	if len(merged) == 0 {
		return "", nil
	}
	return encode(merged)
}

func encode(v map[string]any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return string(data), nil
}
