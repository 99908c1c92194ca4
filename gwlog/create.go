package gwlog

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	fallbacklog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogLevelFlag     = "log-level"
	LogDirectoryFlag = "log-directory"
	LogJSONFlag      = "log-json"

	dirPermMode = 0744

	consoleTimeFormat = time.RFC3339
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

func fallbackLogger(err error) *zerolog.Logger {
	failLog := fallbacklog.With().Logger()
	fallbacklog.Error().Msgf("falling back to a default logger due to logger setup failure: %s", err)
	return &failLog
}

// resilientMultiWriter fans out to every writer even if one of them errors, so a console writer
// failure (e.g. no controlling terminal when run as a service) never silences file logging.
type resilientMultiWriter struct {
	level   zerolog.Level
	writers []io.Writer
}

func (t resilientMultiWriter) Write(p []byte) (int, error) {
	for _, w := range t.writers {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

func (t resilientMultiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if t.level <= level {
		for _, w := range t.writers {
			_, _ = w.Write(p)
		}
	}
	return len(p), nil
}

var (
	rollingFileInit struct {
		once          sync.Once
		writer        io.Writer
		creationError error
	}
	levelErrorLogged bool
)

func newZerolog(cfg *Config) *zerolog.Logger {
	var writers []io.Writer

	if cfg.ConsoleConfig != nil {
		writers = append(writers, createConsoleLogger(*cfg.ConsoleConfig))
	}

	if cfg.RollingConfig != nil {
		rollingLogger, err := createRollingLogger(*cfg.RollingConfig)
		if err != nil {
			return fallbackLogger(err)
		}
		writers = append(writers, rollingLogger)
	}

	level, levelErr := zerolog.ParseLevel(cfg.MinLevel)
	if levelErr != nil {
		level = zerolog.InfoLevel
	}

	multi := resilientMultiWriter{level: level, writers: writers}
	log := zerolog.New(multi).With().Timestamp().Logger()
	if !levelErrorLogged && levelErr != nil {
		log.Error().Msgf("failed to parse log level %q, using %q instead", cfg.MinLevel, level)
		levelErrorLogged = true
	}
	return &log
}

// CreateFromContext builds a Logger from the urfave/cli flag values registered under
// levelFlag/dirFlag (see config.CommonFlags).
func CreateFromContext(c *cli.Context, levelFlag, dirFlag string, disableTerminal bool) *zerolog.Logger {
	cfg := CreateConfig(c.String(levelFlag), disableTerminal, c.Bool(LogJSONFlag), c.String(dirFlag))
	return newZerolog(cfg)
}

// Create builds a Logger directly from cfg, falling back to the package default if cfg is nil.
func Create(cfg *Config) *zerolog.Logger {
	if cfg == nil {
		cfg = &defaultConfig
	}
	return newZerolog(cfg)
}

func createConsoleLogger(cfg ConsoleConfig) io.Writer {
	if cfg.AsJSON {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{
		Out:        colorable.NewColorable(os.Stderr),
		NoColor:    cfg.NoColor,
		TimeFormat: consoleTimeFormat,
	}
}

func createRollingLogger(cfg RollingConfig) (io.Writer, error) {
	rollingFileInit.once.Do(func() {
		if cfg.Dirname != "" {
			if err := os.MkdirAll(cfg.Dirname, dirPermMode); err != nil {
				rollingFileInit.creationError = fmt.Errorf("unable to create log directory: %w", err)
				return
			}
		}
		rollingFileInit.writer = &lumberjack.Logger{
			Filename:   path.Join(cfg.Dirname, cfg.Filename),
			MaxSize:    cfg.maxSize,
			MaxBackups: cfg.maxBackups,
			MaxAge:     cfg.maxAge,
		}
	})
	return rollingFileInit.writer, rollingFileInit.creationError
}
