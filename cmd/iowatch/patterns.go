package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/ridge/iosocket"
	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/iosocket/wire"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// patternSet is the content of a patterns file:
//
//	# comment
//	state hm-rpc.0.*
//	object system.adapter.*
type patternSet struct {
	States  []string
	Objects []string
}

func (ps patternSet) union(other patternSet) patternSet {
	res := patternSet{States: slices.Clone(ps.States), Objects: slices.Clone(ps.Objects)}
	for _, p := range other.States {
		if !slices.Contains(res.States, p) {
			res.States = append(res.States, p)
		}
	}
	for _, p := range other.Objects {
		if !slices.Contains(res.Objects, p) {
			res.Objects = append(res.Objects, p)
		}
	}
	return res
}

func parsePatterns(r io.Reader) (patternSet, error) {
	var res patternSet
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		kind, p, ok := strings.Cut(text, " ")
		p = strings.TrimSpace(p)
		if !ok || p == "" {
			return patternSet{}, fmt.Errorf("line %d: expected \"<state|object> <pattern>\"", line)
		}
		switch kind {
		case "state":
			if !slices.Contains(res.States, p) {
				res.States = append(res.States, p)
			}
		case "object":
			if !slices.Contains(res.Objects, p) {
				res.Objects = append(res.Objects, p)
			}
		default:
			return patternSet{}, fmt.Errorf("line %d: unknown kind %q", line, kind)
		}
	}
	return res, scanner.Err()
}

func loadPatterns(path string) (patternSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return patternSet{}, err
	}
	defer f.Close()
	return parsePatterns(f)
}

// subscriber is the part of the client the watcher drives
type subscriber interface {
	SubscribeState(pattern string, h iosocket.StateHandler) bool
	UnsubscribeState(pattern string, h iosocket.StateHandler)
	SubscribeObject(pattern string, h iosocket.ObjectHandler) bool
	UnsubscribeObject(pattern string, h iosocket.ObjectHandler)
}

// subscriptions keeps the client subscribed to the base patterns plus the
// current pattern set
type subscriptions struct {
	client  subscriber
	base    patternSet
	states  iosocket.StateHandler
	objects iosocket.ObjectHandler
	current patternSet
}

func newSubscriptions(ctx context.Context, client subscriber, base patternSet) *subscriptions {
	logger := tlog.Get(ctx)
	return &subscriptions{
		client: client,
		base:   base,
		states: iosocket.StateFunc(func(id string, state *wire.State) {
			if state == nil {
				logger.Info("State deleted", zap.String("id", id))
				return
			}
			logger.Info("State changed", zap.String("id", id), zap.Object("state", state))
		}),
		objects: iosocket.ObjectFunc(func(id string, obj *wire.Object, previous *wire.ObjectSummary) {
			if obj == nil {
				logger.Info("Object deleted", zap.String("id", id))
				return
			}
			logger.Info("Object changed", zap.String("id", id), zap.String("type", obj.Type))
		}),
	}
}

// apply subscribes the new patterns and unsubscribes the dropped ones
func (s *subscriptions) apply(set patternSet) {
	set = s.base.union(set)
	for _, p := range set.States {
		s.client.SubscribeState(p, s.states)
	}
	for _, p := range s.current.States {
		if !slices.Contains(set.States, p) {
			s.client.UnsubscribeState(p, s.states)
		}
	}
	for _, p := range set.Objects {
		s.client.SubscribeObject(p, s.objects)
	}
	for _, p := range s.current.Objects {
		if !slices.Contains(set.Objects, p) {
			s.client.UnsubscribeObject(p, s.objects)
		}
	}
	s.current = set
}

// watchPatterns applies the patterns file and reapplies it on every change
// until the context is closed. A malformed file is reported and skipped.
func watchPatterns(ctx context.Context, path string, subs *subscriptions) error {
	logger := tlog.Get(ctx).With(zap.String("path", path))
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// editors replace files, so watch the directory
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	reload := func() {
		set, err := loadPatterns(path)
		if err != nil {
			logger.Error("Failed to load patterns", zap.Error(err))
			return
		}
		subs.apply(set)
		logger.Info("Patterns applied", zap.Strings("states", set.States), zap.Strings("objects", set.Objects))
	}
	reload()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.Events:
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload()
		case err := <-w.Errors:
			return err
		}
	}
}
