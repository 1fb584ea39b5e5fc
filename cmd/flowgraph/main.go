package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/graphdef"
	"github.com/polyglot-support/flowgraph/internal/cli"
)

// main is the entrypoint for the flowgraph driver.
func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the driver logic for easier testing and error handling.
func run(outW io.Writer, args []string) error {
	config, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	logger := newLogger(config)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	def, err := graphdef.NewLoader().Load(ctx, config.DefinitionPath)
	if err != nil {
		return err
	}
	if config.Workers > 0 {
		def.Settings.Workers = config.Workers
	}

	g, err := graphdef.Build(ctx, def)
	if err != nil {
		return err
	}
	defer g.Close()

	logger.Info("Executing graph.", "nodes", len(g.Nodes()), "path", config.DefinitionPath)
	if err := g.Execute(ctx); err != nil {
		return err
	}

	names := make([]string, 0, len(g.Nodes()))
	results := make(map[string]string)
	for _, n := range g.Nodes() {
		names = append(names, n.Name())
		if e := g.NodeError(n.Name()); e != nil {
			results[n.Name()] = fmt.Sprintf("error: %s", e)
			continue
		}
		r := n.Compute(ctx, n.CurrentPrecisionLevel())
		if r.Failed() {
			results[n.Name()] = fmt.Sprintf("error: %s", r.Err())
			continue
		}
		results[n.Name()] = fmt.Sprintf("%g (level %d)", r.Value(), n.CurrentPrecisionLevel())
	}

	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(outW, "%s = %s\n", name, results[name])
	}
	return nil
}

// newLogger builds the process logger from the CLI configuration.
func newLogger(config *cli.Config) *slog.Logger {
	var level slog.Level
	switch config.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
