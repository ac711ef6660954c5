// Command pagekit inspects, merges and extracts PDF pages, manages stored
// projects and serves a project store over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wudi/pagekit/assemble"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/writer"
)

type options struct {
	verbose bool
	lenient bool
	command string
	args    []string
}

// env carries what every command shares.
type env struct {
	log    observability.Logger
	loader *document.Loader
	stdout io.Writer
}

// usageError marks bad invocations; main exits with status 2 for them.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return usageError{fmt.Sprintf(format, args...)} }

var commands = map[string]func(ctx context.Context, e *env, args []string) error{
	"info":    runInfo,
	"merge":   runMerge,
	"extract": runExtract,
	"thumbs":  runThumbs,
	"project": runProject,
	"serve":   runServe,
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagekit: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, opts)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagekit %s: %v\n", opts.command, err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseFlags(argv []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pagekit", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pagekit [flags] <command> [args]\n\n")
		fmt.Fprintf(fs.Output(), "Commands:\n")
		fmt.Fprintf(fs.Output(), "  info FILE...                      report page counts and metadata\n")
		fmt.Fprintf(fs.Output(), "  merge -o OUT FILE[:PAGES]...      concatenate pages into one PDF\n")
		fmt.Fprintf(fs.Output(), "  extract -o OUT -select PAGES ...  write only the selected pages\n")
		fmt.Fprintf(fs.Output(), "  thumbs -out DIR FILE[:PAGES]...   write PNG previews\n")
		fmt.Fprintf(fs.Output(), "  project save|list|show|render|delete\n")
		fmt.Fprintf(fs.Output(), "  serve -dir DIR                    serve a project store over HTTP\n\n")
		fmt.Fprintf(fs.Output(), "PAGES is a 1-based range list such as 1-3,5,7-.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.BoolVar(&opts.verbose, "v", false, "Log debug output to stderr")
	fs.BoolVar(&opts.lenient, "lenient", false, "Repair damaged files instead of rejecting them")
	if err := fs.Parse(argv); err != nil {
		return options{}, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return options{}, fmt.Errorf("missing command")
	}
	opts.command = fs.Arg(0)
	opts.args = fs.Args()[1:]
	if _, ok := commands[opts.command]; !ok {
		fs.Usage()
		return options{}, fmt.Errorf("unknown command %q", opts.command)
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var strategy recovery.Strategy = recovery.NewStrictStrategy()
	if opts.lenient {
		strategy = recovery.NewLenientStrategy(log)
	}
	e := &env{
		log:    log,
		loader: document.NewLoader(document.Config{Recovery: strategy, Logger: log}),
		stdout: os.Stdout,
	}
	return commands[opts.command](ctx, e, opts.args)
}

// outputFlags registers the flags shared by commands that write a PDF.
func outputFlags(fs *flag.FlagSet) *assemble.Config {
	cfg := &assemble.Config{Output: writer.Config{Producer: "pagekit"}}
	fs.BoolVar(&cfg.Output.Compress, "compress", false, "Flate-compress unfiltered streams")
	fs.BoolVar(&cfg.Output.XRefStreams, "xref-streams", false, "Write a cross-reference stream (PDF 1.5+)")
	fs.BoolVar(&cfg.Output.Deterministic, "deterministic", false, "Omit dates and derive /ID from content")
	fs.BoolVar(&cfg.Deduplicate, "dedupe", false, "Fold identical objects shared by several inputs")
	return cfg
}

func newAssembler(e *env, cfg *assemble.Config) *assemble.Assembler {
	c := *cfg
	c.Logger = e.log
	return assemble.New(c)
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func emit(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
