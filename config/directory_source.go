package config

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	yaml "gopkg.in/yaml.v3"

	"github.com/datum-cloud/datum-connect/directory"
	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/watcher"
)

// directoryFile is the on-disk YAML shape of a codename Directory, populated out of band by
// whatever control plane owns codename assignment (out of scope per spec.md §1).
type directoryFile struct {
	Entries []directoryFileEntry `yaml:"entries"`
}

type directoryFileEntry struct {
	Codename string `yaml:"codename"`
	NodeID   string `yaml:"node_id"`
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
}

// DirectoryFileManager watches a YAML directory file on disk and pushes every change into a
// directory.Directory, so datum-gateway can reconfigure codename routing without a restart.
// Grounded directly on config.FileManager's watch-then-reload loop, generalized from cloudflared's
// ingress-rule Root to this spec's codename directory.
type DirectoryFileManager struct {
	watcher    watcher.Notifier
	directory  *directory.Directory
	configPath string
	log        *zerolog.Logger
}

// NewDirectoryFileManager builds a manager watching path and loads it once immediately.
func NewDirectoryFileManager(w watcher.Notifier, dir *directory.Directory, path string, log *zerolog.Logger) (*DirectoryFileManager, error) {
	m := &DirectoryFileManager{watcher: w, directory: dir, configPath: path, log: log}
	if err := w.Add(path); err != nil {
		return nil, err
	}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start begins the watch loop. It returns once Shutdown is called.
func (m *DirectoryFileManager) Start() {
	m.watcher.Start(m)
}

// Shutdown stops the watch loop.
func (m *DirectoryFileManager) Shutdown() {
	m.watcher.Shutdown()
}

func (m *DirectoryFileManager) reload() error {
	file, err := os.Open(m.configPath)
	if err != nil {
		return errors.Wrap(err, "unable to open directory file")
	}
	defer file.Close()

	var parsed directoryFile
	if err := yaml.NewDecoder(file).Decode(&parsed); err != nil {
		if err == io.EOF {
			m.log.Warn().Str("path", m.configPath).Msg("directory file is empty")
			return nil
		}
		return errors.Wrap(err, "error parsing YAML directory file")
	}

	next := make(map[string]directory.Entry, len(parsed.Entries))
	for _, e := range parsed.Entries {
		id, err := nodeid.Parse(e.NodeID)
		if err != nil {
			return fmt.Errorf("directory file: entry %q has invalid node_id: %w", e.Codename, err)
		}
		next[e.Codename] = directory.Entry{NodeID: id, Host: e.Host, Port: e.Port}
	}

	m.directory.Replace(next)
	m.log.Info().Int("entries", len(next)).Msg("directory reloaded")
	return nil
}

// WatcherItemDidChange implements watcher.Notification.
func (m *DirectoryFileManager) WatcherItemDidChange(_ string) {
	if err := m.reload(); err != nil {
		m.log.Err(err).Msg("failed to reload directory file")
	}
}

// WatcherDidError implements watcher.Notification.
func (m *DirectoryFileManager) WatcherDidError(err error) {
	m.log.Err(err).Msg("directory file watcher encountered an error")
}
