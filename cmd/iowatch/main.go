// iowatch connects to a backend and logs the changes of the states and
// objects matching the given patterns.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ridge/iosocket"
	"github.com/ridge/iosocket/run"
	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/iosocket/wire"
	"github.com/ridge/parallel"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	endpoint     iosocket.Endpoint
	https        bool
	name         string
	lang         string
	states       []string
	objects      []string
	patternsFile string
	logs         bool
	noObjects    bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("iowatch", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringVar(&opts.endpoint.Host, "host", "localhost", "Backend host")
	fs.IntVar(&opts.endpoint.Port, "port", 8081, "Backend port")
	fs.StringVar(&opts.endpoint.Path, "path", iosocket.DefaultPath, "Socket endpoint path")
	fs.BoolVar(&opts.https, "https", false, "Connect with TLS")
	fs.StringVar(&opts.name, "name", "iowatch", "Client name reported to the backend")
	fs.StringVar(&opts.lang, "lang", "", "Preferred language, if the backend has none configured")
	fs.StringArrayVarP(&opts.states, "state", "s", nil, "State pattern to watch (repeatable)")
	fs.StringArrayVarP(&opts.objects, "object", "o", nil, "Object pattern to watch (repeatable)")
	fs.StringVar(&opts.patternsFile, "patterns-file", "", "File with patterns to watch, reloaded on change")
	fs.BoolVar(&opts.logs, "logs", false, "Stream backend logs")
	fs.BoolVar(&opts.noObjects, "no-objects", false, "Don't load the object tree")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.endpoint.Protocol = "http:"
	if opts.https {
		opts.endpoint.Protocol = "https:"
	}
	if opts.patternsFile == "" && len(opts.states) == 0 && len(opts.objects) == 0 {
		return options{}, fmt.Errorf("nothing to watch: pass --state, --object or --patterns-file")
	}
	return opts, nil
}

func watch(ctx context.Context, opts options) error {
	logger := tlog.Get(ctx)

	client, err := iosocket.New(iosocket.Config{
		Name:                opts.name,
		AutoSubscribeLog:    opts.logs,
		DoNotLoadAllObjects: opts.noObjects,
		OnProgress: func(progress iosocket.Progress) {
			logger.Debug("Progress", zap.Stringer("progress", progress))
		},
		OnReady: func(objects map[string]*wire.Object) {
			logger.Info("Ready", zap.Int("objects", len(objects)))
		},
		OnError: func(err error) {
			logger.Warn("Backend error", zap.Error(err))
		},
		OnLog: func(msg wire.LogMessage) {
			logger.Info(msg.Message, zap.String("from", msg.From), zap.String("severity", msg.Severity))
		},
	}, iosocket.DefaultPlatform{Endpoint: opts.endpoint, Lang: opts.lang, Logger: logger})
	if err != nil {
		return err
	}
	client.OnConnectionChange(func(connected bool) {
		logger.Info("Connection changed", zap.Bool("connected", connected))
	})

	subs := newSubscriptions(ctx, client, patternSet{States: opts.states, Objects: opts.objects})
	subs.apply(patternSet{})

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("client", parallel.Fail, client.Run)
		if opts.patternsFile != "" {
			spawn("patterns", parallel.Fail, func(ctx context.Context) error {
				return watchPatterns(ctx, opts.patternsFile, subs)
			})
		}
		return nil
	})
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	run.Server(func(ctx context.Context) error {
		return watch(ctx, opts)
	})
}
