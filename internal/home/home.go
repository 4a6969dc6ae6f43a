// Package home manages the weavequery home directory layout.
//
// The home directory owns all persistent state: the config file, the saved
// grid-state database and a stable client identity.
//
// Layout:
//
//	<root>/
//	  config.toml                      (optional, see package config)
//	  settings.db                      (sqlite settings store)
//	  client_id                        (UUIDv7 sent with trace server requests)
//	  fixtures/                        (default location for serve fixtures)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a weavequery home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/weavequery
//   - macOS:   ~/Library/Application Support/weavequery
//   - Windows: %APPDATA%/weavequery
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "weavequery")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path to the TOML config file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.toml")
}

// SettingsPath returns the path to the sqlite settings database.
func (d Dir) SettingsPath() string {
	return filepath.Join(d.root, "settings.db")
}

// FixturesDir returns the directory relative fixture paths resolve against.
func (d Dir) FixturesDir() string {
	return filepath.Join(d.root, "fixtures")
}

// Fixture resolves a fixture path from the config file. Absolute paths are
// returned unchanged; relative ones live under FixturesDir.
func (d Dir) Fixture(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.FixturesDir(), name)
}

// EnsureExists creates the home directory and its parents.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// ClientID returns the identity sent in the client id header so the trace
// server can rate limit per installation rather than per address. The value
// lives in <root>/client_id; a missing or corrupt file is replaced with a
// fresh UUIDv7.
func (d Dir) ClientID() (string, error) {
	p := filepath.Join(d.root, "client_id")
	if data, err := os.ReadFile(p); err == nil { //nolint:gosec // G304: fixed name under the home dir
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String(), nil
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	if err := os.WriteFile(p, []byte(id.String()+"\n"), 0o640); err != nil { //nolint:gosec // G306: not secret
		return "", fmt.Errorf("write client id: %w", err)
	}
	return id.String(), nil
}
