// Package manifest handles molt.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Manifest represents a molt.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Watch   Watch   `toml:"watch"`
	Journal Journal `toml:"journal"`
	Relay   Relay   `toml:"relay"`
	Track   Track   `toml:"track"`

	// Dir is the directory containing the molt.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Watch configures which class image files are observed for hot swaps.
type Watch struct {
	Dirs      []string `toml:"dirs"`
	Extension string   `toml:"extension"`
	SettleMS  int      `toml:"settle-ms"`
}

// Journal configures the audit event log.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Relay configures the event broadcast endpoint for tooling.
type Relay struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Track names the classes whose live instances are migrated on
// redefinition. Classes not listed here still hot-swap; their existing
// instances just keep the old behavior until recreated.
type Track struct {
	Classes []string `toml:"classes"`
}

// Load parses a molt.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "molt.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a molt.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "molt.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if len(m.Watch.Dirs) == 0 {
		m.Watch.Dirs = []string{"src"}
	}
	if m.Watch.Extension == "" {
		m.Watch.Extension = ".mcls"
	}
	if m.Watch.SettleMS <= 0 {
		m.Watch.SettleMS = 100
	}
	if m.Journal.Path == "" {
		m.Journal.Path = filepath.Join(".molt", "journal.db")
	}
	if m.Relay.Addr == "" {
		m.Relay.Addr = "127.0.0.1:7547"
	}
}

// WatchDirPaths returns absolute paths for the configured watch directories.
func (m *Manifest) WatchDirPaths() []string {
	var paths []string
	for _, d := range m.Watch.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// JournalPath returns the absolute path of the journal database.
func (m *Manifest) JournalPath() string {
	if filepath.IsAbs(m.Journal.Path) {
		return m.Journal.Path
	}
	return filepath.Join(m.Dir, m.Journal.Path)
}

// Settle returns the watch debounce window as a duration.
func (m *Manifest) Settle() time.Duration {
	return time.Duration(m.Watch.SettleMS) * time.Millisecond
}

// Tracked reports whether instances of the named class should be
// migrated on redefinition. "*" tracks every class.
func (m *Manifest) Tracked(class string) bool {
	for _, c := range m.Track.Classes {
		if c == class || c == "*" {
			return true
		}
	}
	return false
}
