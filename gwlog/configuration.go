// Package gwlog is the ambient structured-logging layer shared by datum-gateway and
// datum-upstream: a zerolog logger with an optional colorized console writer and an optional
// rolling file writer. Adapted from logger/configuration.go and logger/create.go, with
// cloudflared's management-telemetry log forwarder (features.FeatureManagementLogs,
// management.Logger) removed — that forwarder shipped logs to Cloudflare's own control plane and
// has no equivalent collaborator in this module.
package gwlog

import "path/filepath"

var defaultConfig = createDefaultConfig()

// Config describes which writers a Logger fans out to.
type Config struct {
	ConsoleConfig *ConsoleConfig // nil disables console output
	RollingConfig *RollingConfig // nil disables file output
	MinLevel      string         // debug | info | warn | error
}

// ConsoleConfig controls the colorized, human-readable console writer.
type ConsoleConfig struct {
	NoColor bool
	AsJSON  bool
}

// RollingConfig controls the size/age-rotated log file.
type RollingConfig struct {
	Dirname  string
	Filename string

	maxSize    int // megabytes
	maxBackups int // files
	maxAge     int // days
}

func createDefaultConfig() Config {
	const minLevel = "info"
	const rollingMaxSize = 10 // Mb
	const rollingMaxBackups = 5
	const rollingMaxAge = 0 // keep forever
	const defaultLogFilename = "datum-connect.log"

	return Config{
		ConsoleConfig: &ConsoleConfig{},
		RollingConfig: &RollingConfig{
			Dirname:    "",
			Filename:   defaultLogFilename,
			maxSize:    rollingMaxSize,
			maxBackups: rollingMaxBackups,
			maxAge:     rollingMaxAge,
		},
		MinLevel: minLevel,
	}
}

// CreateConfig builds a Config from the flag values cmd/datum-gateway and cmd/datum-upstream
// expose. An empty rollingLogDir disables file logging; disableTerminal disables console output
// (used when running as a background/service process).
func CreateConfig(minLevel string, disableTerminal bool, formatJSON bool, rollingLogDir string) *Config {
	var console *ConsoleConfig
	if !disableTerminal {
		console = &ConsoleConfig{AsJSON: formatJSON}
	}

	var rolling *RollingConfig
	if rollingLogDir != "" {
		rolling = &RollingConfig{
			Dirname:    rollingLogDir,
			Filename:   defaultConfig.RollingConfig.Filename,
			maxSize:    defaultConfig.RollingConfig.maxSize,
			maxBackups: defaultConfig.RollingConfig.maxBackups,
			maxAge:     defaultConfig.RollingConfig.maxAge,
		}
	}

	if minLevel == "" {
		minLevel = defaultConfig.MinLevel
	}

	return &Config{ConsoleConfig: console, RollingConfig: rolling, MinLevel: minLevel}
}

func (rc *RollingConfig) fullpath() string {
	return filepath.Join(rc.Dirname, rc.Filename)
}
