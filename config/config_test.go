package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/datum-cloud/datum-connect/directory"
	"github.com/datum-cloud/datum-connect/router"
	"github.com/datum-cloud/datum-connect/watcher"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newContext(t *testing.T, fs []cli.Flag, args map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = fs
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range fs {
		require.NoError(t, f.Apply(set))
	}
	for name, val := range args {
		require.NoError(t, set.Set(name, val))
	}
	return cli.NewContext(app, set, nil)
}

func TestGatewayConfigFromContextDefaults(t *testing.T) {
	c := newContext(t, GatewayFlags(), nil)
	cfg, err := GatewayConfigFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, router.ModeMetadata, cfg.RouteMode)
	assert.Equal(t, "0.0.0.0:7844", cfg.ListenAddr)
}

func TestGatewayConfigFromContextCodenameRequiresDirectoryFile(t *testing.T) {
	c := newContext(t, GatewayFlags(), map[string]string{FlagRouteMode: "codename"})
	_, err := GatewayConfigFromContext(c)
	assert.Error(t, err)
}

func TestGatewayConfigFromContextUnknownMode(t *testing.T) {
	c := newContext(t, GatewayFlags(), map[string]string{FlagRouteMode: "bogus"})
	_, err := GatewayConfigFromContext(c)
	assert.Error(t, err)
}

func TestUpstreamConfigFromContextRequiresGatewayNodeID(t *testing.T) {
	c := newContext(t, UpstreamFlags(), nil)
	_, err := UpstreamConfigFromContext(c)
	assert.Error(t, err)
}

func TestUpstreamConfigFromContextParsesNodeID(t *testing.T) {
	id := "0100000000000000000000000000000000000000000000000000000000000000"[:64]
	c := newContext(t, UpstreamFlags(), map[string]string{FlagGatewayNodeID: id})
	cfg, err := UpstreamConfigFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, id, cfg.GatewayNodeID.String())
}

type fakeWatcher struct {
	added []string
}

func (f *fakeWatcher) Add(path string) error            { f.added = append(f.added, path); return nil }
func (f *fakeWatcher) Start(watcher.Notification)       {}
func (f *fakeWatcher) Shutdown()                        {}

func TestDirectoryFileManagerLoadsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "directory.yaml")
	id := "0200000000000000000000000000000000000000000000000000000000000000"[:64]
	content := "entries:\n  - codename: myapp\n    node_id: \"" + id + "\"\n    host: 127.0.0.1\n    port: 8080\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d := directory.New()
	w := &fakeWatcher{}
	_, err := NewDirectoryFileManager(w, d, path, testLogger())
	require.NoError(t, err)

	resolved, host, port, ok := d.Resolve("myapp")
	require.True(t, ok)
	assert.Equal(t, id, resolved.String())
	assert.Equal(t, "127.0.0.1", host)
	assert.EqualValues(t, 8080, port)
}

func TestDirectoryFileManagerRejectsBadNodeID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "directory.yaml")
	content := "entries:\n  - codename: myapp\n    node_id: \"not-valid\"\n    host: 127.0.0.1\n    port: 8080\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d := directory.New()
	w := &fakeWatcher{}
	_, err := NewDirectoryFileManager(w, d, path, testLogger())
	assert.Error(t, err)
}
