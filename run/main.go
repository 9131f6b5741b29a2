// Package run is the entry point of command-line programs: it sets up
// logging from the command line, handles termination signals and turns the
// result of the top-level task into an exit code.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/parallel"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var colors = map[string]tlog.Color{
	"":     tlog.ColorAuto,
	"auto": tlog.ColorAuto,
	"yes":  tlog.ColorYes,
	"no":   tlog.ColorNo,
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("log-format", string(tlog.FormatText), "Log format (json|text)")
	fs.String("log-color", "auto", "Colored logs (yes|no|auto)")
	fs.BoolP("verbose", "v", false, "Enable verbose (debug level) messages")
	// the program's own parser prints the usage
	fs.Usage = func() {}
	return fs
}

func init() {
	pflag.CommandLine.AddFlagSet(newFlagSet())
}

// Tool runs the top-level task of a program and exits.
//
// The task gets a context carrying the logger configured by the --log-format,
// --log-color and --verbose flags. The context is closed when SIGINT, SIGTERM
// or SIGHUP arrives.
//
// The exit code is 0 if the task returns nil, the code of a WithExitCode
// error, or 1 for any other error. Deferred calls of the caller don't run.
//
//	func main() {
//	    pflag.Parse()
//	    run.Tool(func(ctx context.Context) error {
//	        client, err := iosocket.New(cfg, platform)
//	        if err != nil {
//	            return err
//	        }
//	        return client.Run(ctx)
//	    })
//	}
func Tool(task func(ctx context.Context) error) {
	config, err := logConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx := tlog.WithLogger(context.Background(), tlog.New(config))

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("main", parallel.Exit, task)
		spawn("signals", parallel.Exit, handleSignals)
		return nil
	})
	if err != nil {
		tlog.Get(ctx).Error("Error", zap.Error(err))
	}
	os.Exit(exitCode(err))
}

// Server is Tool for long-running tasks: a task interrupted by a signal that
// returns the context error exits with code 0.
func Server(task func(ctx context.Context) error) {
	Tool(func(ctx context.Context) error {
		err := task(ctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	})
}

// WithExitCode is implemented by errors that choose the exit code of the
// process
type WithExitCode interface {
	ExitCode() int
}

func exitCode(err error) int {
	var wec WithExitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &wec):
		return wec.ExitCode()
	default:
		return 1
	}
}

// logConfig extracts the logging flags from the command line
func logConfig(args []string) (tlog.Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return tlog.Config{}, err
	}

	format, _ := fs.GetString("log-format")
	switch tlog.Format(format) {
	case tlog.FormatText, tlog.FormatJSON:
	default:
		return tlog.Config{}, fmt.Errorf("invalid --log-format value %q", format)
	}
	colorArg, _ := fs.GetString("log-color")
	color, ok := colors[colorArg]
	if !ok {
		return tlog.Config{}, fmt.Errorf("invalid --log-color value %q", colorArg)
	}
	verbose, _ := fs.GetBool("verbose")

	return tlog.Config{
		Format:  tlog.Format(format),
		Color:   color,
		Verbose: verbose,
	}, nil
}
