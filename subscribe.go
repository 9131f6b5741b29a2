package iosocket

import (
	"context"

	"github.com/ridge/iosocket/registry"
	"github.com/ridge/iosocket/wire"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// StateHandler receives state changes. A nil state means the state was
// deleted.
//
// Registration is idempotent for comparable handlers: registering the same
// handler twice for a pattern has no effect.
type StateHandler interface {
	OnStateChange(id string, state *wire.State)
}

// ObjectHandler receives object changes. A nil obj means the object was
// deleted. previous identifies the replaced document if the object changed.
type ObjectHandler interface {
	OnObjectChange(id string, obj *wire.Object, previous *wire.ObjectSummary)
}

type stateFunc struct {
	fn func(id string, state *wire.State)
}

func (f *stateFunc) OnStateChange(id string, state *wire.State) {
	f.fn(id, state)
}

// StateFunc adapts a function to StateHandler. Each call returns a distinct
// handler: keep it to unsubscribe later.
func StateFunc(fn func(id string, state *wire.State)) StateHandler {
	return &stateFunc{fn: fn}
}

type objectFunc struct {
	fn func(id string, obj *wire.Object, previous *wire.ObjectSummary)
}

func (f *objectFunc) OnObjectChange(id string, obj *wire.Object, previous *wire.ObjectSummary) {
	f.fn(id, obj, previous)
}

// ObjectFunc adapts a function to ObjectHandler. Each call returns a distinct
// handler: keep it to unsubscribe later.
func ObjectFunc(fn func(id string, obj *wire.Object, previous *wire.ObjectSummary)) ObjectHandler {
	return &objectFunc{fn: fn}
}

// SubscribeState registers a handler for the states matching the pattern.
// The pattern is subscribed on the backend while connected.
func (c *Client) SubscribeState(pattern string, h StateHandler) bool {
	return c.states.Subscribe(pattern, h)
}

// SubscribeBinaryState is SubscribeState for binary states: the handler gets
// the state with Binary loaded
func (c *Client) SubscribeBinaryState(pattern string, h StateHandler) bool {
	return c.states.Subscribe(pattern, h, registry.Binary())
}

// UnsubscribeState removes the handler from the pattern, or all handlers if h
// is nil
func (c *Client) UnsubscribeState(pattern string, h StateHandler) {
	if h == nil {
		c.states.UnsubscribeAll(pattern)
		return
	}
	c.states.Unsubscribe(pattern, h)
}

// SubscribeObject registers a handler for the objects matching the pattern
func (c *Client) SubscribeObject(pattern string, h ObjectHandler) bool {
	return c.objects.Subscribe(pattern, h)
}

// UnsubscribeObject removes the handler from the pattern, or all handlers if
// h is nil
func (c *Client) UnsubscribeObject(pattern string, h ObjectHandler) {
	if h == nil {
		c.objects.UnsubscribeAll(pattern)
		return
	}
	c.objects.Unsubscribe(pattern, h)
}

// resubscribe subscribes or unsubscribes all patterns on the wire. Calling it
// again with the same value does nothing.
func (c *Client) resubscribe(enable bool) {
	event, objectEvent := "subscribe", "subscribeObjects"
	if !enable {
		event, objectEvent = "unsubscribe", "unsubscribeObjects"
	}

	objectPatterns, objectsChanged := c.objects.SetActive(enable)
	statePatterns, statesChanged := c.states.SetActive(enable)

	if objectsChanged {
		patterns := slices.Clone(c.config.AutoSubscribes)
		for _, p := range objectPatterns {
			if !slices.Contains(patterns, p) {
				patterns = append(patterns, p)
			}
		}
		for _, p := range patterns {
			c.emit(objectEvent, p)
		}
	}

	if c.config.AutoSubscribeLog {
		c.mu.Lock()
		changed := c.logRequired != enable
		c.logRequired = enable
		c.mu.Unlock()
		if changed {
			c.emit("requireLog", enable)
		}
	}

	if statesChanged {
		for _, p := range statePatterns {
			c.emit(event, p)
		}
	}

	if objectsChanged || statesChanged {
		c.log().Debug("Subscriptions updated", zap.Bool("enabled", enable),
			zap.Strings("states", statePatterns), zap.Strings("objects", objectPatterns))
	}
}

// markUnsubscribed records that the backend dropped the subscriptions along
// with the connection
func (c *Client) markUnsubscribed() {
	c.objects.SetActive(false)
	c.states.SetActive(false)

	c.mu.Lock()
	c.logRequired = false
	c.mu.Unlock()
}

// stateChange delivers a state notification. Runs on the event loop.
//
// Binary handlers get the notification later, from the event loop, once the
// value is loaded in the background.
func (c *Client) stateChange(id string, state *wire.State) {
	c.mirror.ApplyState(id, state)

	var binaryHandlers []StateHandler
	for _, reg := range c.states.Match(id) {
		if !reg.Binary || state == nil {
			reg.Handler.OnStateChange(id, state)
			continue
		}
		binaryHandlers = append(binaryHandlers, reg.Handler)
	}
	if len(binaryHandlers) == 0 {
		return
	}

	c.spawn("binaryState", func(ctx context.Context) error {
		binary := state.Clone()
		data, err := c.GetBinaryState(ctx, id)
		if err != nil {
			c.log().Warn("Failed to load binary state", zap.String("id", id), zap.Error(err))
		}
		binary.Binary = data
		c.tasks.post(func() {
			for _, h := range binaryHandlers {
				h.OnStateChange(id, binary)
			}
		})
		return nil
	})
}

// objectChange delivers an object notification. Runs on the event loop.
func (c *Client) objectChange(id string, obj *wire.Object) {
	changed := true
	var previous *wire.ObjectSummary
	if c.mirror.Loaded() {
		change := c.mirror.ApplyObject(id, obj)
		changed, previous = change.Changed, change.Previous
	}

	for _, reg := range c.objects.Match(id) {
		reg.Handler.OnObjectChange(id, obj, previous)
	}
	if changed && c.config.OnObjectChange != nil {
		c.config.OnObjectChange(id, obj)
	}
}
