// Package logging configures the global zerolog logger and bridges it to
// watermill.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Settings struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	WithCaller bool   `yaml:"with-caller"`
}

// InitLogger replaces the global logger. "auto" writes console output when
// stderr is a terminal and JSON otherwise.
func InitLogger(s Settings) error {
	return initLogger(s, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
}

func initLogger(s Settings, w io.Writer, tty bool) error {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s.Level)))
		if err != nil {
			return errors.Wrapf(err, "logging: invalid level %q", s.Level)
		}
		level = l
	}

	var out io.Writer
	switch strings.ToLower(strings.TrimSpace(s.Format)) {
	case "", FormatAuto:
		if tty {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		} else {
			out = w
		}
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: !tty}
	case FormatJSON:
		out = w
	default:
		return errors.Errorf("logging: unknown format %q", s.Format)
	}

	zerolog.SetGlobalLevel(level)
	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}
