package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelFromString maps LOGGER_LEVEL values to zerolog levels. Unknown
// values fall back to warn.
func LevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type Options struct {
	Level string
	// Foreground switches to human readable console output on stderr.
	Foreground bool
	// Verbose lowers the level to debug.
	Verbose bool
	Proc    string
}

// Setup replaces the global logger. Every record carries the process
// name so the interleaved output of the three processes can be told
// apart.
func Setup(opts Options) {
	var out io.Writer = os.Stderr
	if opts.Foreground {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	level := LevelFromString(opts.Level)
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("proc", opts.Proc).
		Logger()
	base = level
}

var base = zerolog.WarnLevel

// SetVerbose toggles debug logging at runtime. Brief mode restores the
// level chosen at startup.
func SetVerbose(verbose bool) {
	if verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		return
	}
	log.Logger = log.Logger.Level(base)
}
