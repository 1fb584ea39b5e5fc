// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates CLI flags into the driver's configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Config is the validated driver configuration.
type Config struct {
	// DefinitionPath points at a .hcl file or a directory of .hcl files.
	DefinitionPath string
	// LogFormat is "text" or "json".
	LogFormat string
	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string
	// Workers overrides the worker count from the definition when > 0.
	Workers int
}

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Config, bool, error) {
	flagSet := flag.NewFlagSet("flowgraph", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
flowgraph - execute a declarative computation graph.

Usage:
  flowgraph [options] [DEFINITION_PATH]

Arguments:
  DEFINITION_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	defFlag := flagSet.String("definition", "", "Path to the graph definition file or directory.")
	dFlag := flagSet.String("d", "", "Path to the graph definition file or directory (shorthand).")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Override the worker count from the definition. 0 keeps the definition's value.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	switch {
	case *defFlag != "":
		path = *defFlag
	case *dFlag != "":
		path = *dFlag
	case flagSet.NArg() > 0:
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *workersFlag < 0 {
		return nil, false, &ExitError{Code: 2, Message: "invalid workers: must be >= 0"}
	}

	return &Config{
		DefinitionPath: path,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		Workers:        *workersFlag,
	}, false, nil
}
