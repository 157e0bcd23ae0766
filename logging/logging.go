// Package logging builds the zerolog logger shared by the CLI, the HTTP server
// and the seeder.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Setup returns a logger writing to output at the given level. The console
// format is coloured only when output is a terminal.
func Setup(output io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}

	switch format {
	case FormatJSON:
	case FormatConsole:
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(output),
		}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	z := zerolog.New(output).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		z = z.Caller()
	}
	return z.Logger().Level(lvl), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
