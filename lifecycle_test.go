package iosocket

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ridge/iosocket/retry"
	"github.com/ridge/iosocket/sio"
	"github.com/ridge/iosocket/test"
	"github.com/ridge/iosocket/wire"
	"github.com/stretchr/testify/require"
)

func TestAutoSubscribesReachReady(t *testing.T) {
	tc := startClient(t, Config{AutoSubscribes: []string{"system.adapter.*"}})
	require.Equal(t, "ws://backend:8081/socket.io/", tc.socket.url)
	require.Equal(t, tc.Config().Name, tc.socket.options.Query.Get("name"))
	require.Equal(t, PhaseConnecting, tc.Phase())

	tc.connect()
	require.Equal(t, testObjects, tc.waitReady(t))
	test.AssertEvents(t, tc.progress, ProgressConnected, ProgressObjectsLoaded, ProgressReady)
	test.AssertEvents(t, tc.socket.emitted, wireEvent{"subscribeObjects", "system.adapter.*"})
	test.AssertEvents(t, tc.socket.calls, "authenticate", "getUserPermissions", "getObject", "getObjects")

	require.NoError(t, tc.WaitConnected(test.Context(t)))
	require.True(t, tc.IsConnected())
	require.Equal(t, PhaseReady, tc.Phase())
	require.Equal(t, ProgressReady, tc.Progress())
	require.Equal(t, "de", tc.Language())
	require.Equal(t, testSystemConfig, tc.SystemConfig())
	require.NotNil(t, tc.Permissions())
	require.True(t, tc.Mirror().Loaded())
}

func TestReconnectResubscribesOnce(t *testing.T) {
	tc := startClient(t, Config{})
	changes := make(chan bool, 10)
	tc.OnConnectionChange(func(connected bool) { changes <- connected })

	states := make(chan string, 10)
	objects := make(chan string, 10)
	require.True(t, tc.SubscribeState("hm-rpc.0.*", StateFunc(func(id string, _ *wire.State) { states <- id })))
	require.True(t, tc.SubscribeObject("system.adapter.*", ObjectFunc(func(id string, _ *wire.Object, _ *wire.ObjectSummary) { objects <- id })))
	test.AssertNoEvents(t, tc.socket.emitted, 50*time.Millisecond)

	tc.connect()
	tc.waitReady(t)
	test.AssertEvents(t, tc.socket.emitted,
		wireEvent{"subscribeObjects", "system.adapter.*"},
		wireEvent{"subscribe", "hm-rpc.0.*"})

	tc.socket.fire(sio.EventDisconnect, "transport close")
	tc.flush(t)
	require.False(t, tc.IsConnected())
	require.Equal(t, PhaseDisconnected, tc.Phase())
	test.AssertEvents(t, tc.progress, ProgressConnected, ProgressObjectsLoaded, ProgressReady, ProgressConnecting)

	tc.socket.fire(sio.EventConnect, true)
	tc.socket.fire(sio.EventReconnect)
	test.AssertForefrontEvents(t, tc.socket.emitted,
		wireEvent{"subscribeObjects", "system.adapter.*"},
		wireEvent{"subscribe", "hm-rpc.0.*"})
	// the handshake of the new session completes without subscribing again
	test.AssertNoEvents(t, tc.socket.emitted, 200*time.Millisecond)

	require.True(t, tc.IsConnected())
	test.AssertEvents(t, changes, true, false, true)
	test.AssertEvents(t, tc.progress, ProgressReady)
	test.AssertNoEvents(t, tc.ready, 10*time.Millisecond)

	// one notification, one call per handler
	tc.socket.fire("stateChange", "hm-rpc.0.light.on", &wire.State{Val: true})
	tc.socket.fire("objectChange", "system.adapter.admin.0", &wire.Object{ID: "system.adapter.admin.0", Type: "instance", Common: map[string]any{"enabled": true}})
	tc.flush(t)
	test.AssertEvents(t, states, "hm-rpc.0.light.on")
	test.AssertEvents(t, objects, "system.adapter.admin.0")
}

func TestBootstrapInterruptedByDisconnect(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	tc := startClient(t, Config{}, func(tc *testClient) {
		var once sync.Once
		tc.socket.handle("getObjects", func([]any) []any {
			once.Do(func() {
				started <- struct{}{}
				<-release
			})
			return []any{nil, testObjects}
		})
	})

	tc.connect()
	test.AssertEvents(t, started, struct{}{})
	tc.socket.fire(sio.EventDisconnect, "transport close")
	tc.flush(t)
	close(release)

	// the late reply of the lost connection changes nothing
	test.AssertNoEvents(t, tc.ready, 200*time.Millisecond)
	tc.flush(t)
	require.False(t, tc.IsConnected())
	require.Equal(t, ProgressConnecting, tc.Progress())
	require.Equal(t, PhaseDisconnected, tc.Phase())
	test.AssertEvents(t, tc.progress, ProgressConnected, ProgressConnecting)

	tc.connect()
	require.Equal(t, testObjects, tc.waitReady(t))
	require.Equal(t, ProgressReady, tc.Progress())
	require.Equal(t, PhaseReady, tc.Phase())
	test.AssertEvents(t, tc.progress, ProgressObjectsLoaded, ProgressReady)
}

func TestSubscribeWhileConnected(t *testing.T) {
	tc := startClient(t, Config{})
	tc.connect()
	tc.waitReady(t)

	h := StateFunc(func(string, *wire.State) {})
	require.True(t, tc.SubscribeState("a.b", h))
	require.False(t, tc.SubscribeState("a.b", h))
	require.True(t, tc.SubscribeState("a.b", StateFunc(func(string, *wire.State) {})))
	test.AssertEvents(t, tc.socket.emitted, wireEvent{"subscribe", "a.b"})

	tc.UnsubscribeState("a.b", h)
	test.AssertNoEvents(t, tc.socket.emitted, 10*time.Millisecond)
	tc.UnsubscribeState("a.b", nil)
	test.AssertEvents(t, tc.socket.emitted, wireEvent{"unsubscribe", "a.b"})
}

type objectCall struct {
	handler  string
	id       string
	obj      *wire.Object
	previous *wire.ObjectSummary
}

func TestObjectFanOut(t *testing.T) {
	changed := make(chan string, 10)
	tc := startClient(t, Config{OnObjectChange: func(id string, obj *wire.Object) { changed <- id }})
	tc.connect()
	tc.waitReady(t)

	calls := make(chan objectCall, 10)
	handler := func(name string) ObjectHandler {
		return ObjectFunc(func(id string, obj *wire.Object, previous *wire.ObjectSummary) {
			calls <- objectCall{handler: name, id: id, obj: obj, previous: previous}
		})
	}
	tc.SubscribeObject("javascript.0.*", handler("broad"))
	tc.SubscribeObject("javascript.0.scripts.*", handler("narrow"))

	const id = "javascript.0.scripts.hello"
	updated := &wire.Object{ID: id, Type: "script", Common: map[string]any{"enabled": true}}
	tc.socket.fire("objectChange", id, updated)
	test.AssertEvents(t, calls,
		objectCall{handler: "broad", id: id, obj: updated, previous: &wire.ObjectSummary{ID: id, Type: "script"}},
		objectCall{handler: "narrow", id: id, obj: updated, previous: &wire.ObjectSummary{ID: id, Type: "script"}})
	test.AssertEvents(t, changed, id)
	require.Equal(t, updated, tc.Mirror().Object(id))

	// same document again: handlers are told, the global callback is not
	tc.socket.fire("objectChange", id, updated)
	test.AssertEvents(t, calls,
		objectCall{handler: "broad", id: id, obj: updated},
		objectCall{handler: "narrow", id: id, obj: updated})
	test.AssertNoEvents(t, changed, 10*time.Millisecond)

	tc.socket.fire("objectChange", "system.host.server", &wire.Object{ID: "system.host.server", Type: "host"})
	tc.flush(t)
	test.AssertNoEvents(t, calls, 10*time.Millisecond)
	test.AssertEvents(t, changed, "system.host.server")

	tc.socket.fire("objectChange", id, nil)
	test.AssertEvents(t, calls,
		objectCall{handler: "broad", id: id, previous: &wire.ObjectSummary{ID: id, Type: "script"}},
		objectCall{handler: "narrow", id: id, previous: &wire.ObjectSummary{ID: id, Type: "script"}})
	require.Nil(t, tc.Mirror().Object(id))
}

func TestStateChange(t *testing.T) {
	tc := startClient(t, Config{})
	tc.connect()
	tc.waitReady(t)

	states := make(chan *wire.State, 10)
	tc.SubscribeState("hm-rpc.0.*", StateFunc(func(id string, state *wire.State) { states <- state }))
	tc.SubscribeBinaryState("cam.*", StateFunc(func(id string, state *wire.State) { states <- state }))
	tc.socket.reply("getBinaryState", nil, "cG5n")

	tc.socket.fire("stateChange", "hm-rpc.0.light.on", &wire.State{Val: "on", Ack: true})
	test.AssertEvents(t, states, &wire.State{Val: "on", Ack: true})
	require.Equal(t, &wire.State{Val: "on", Ack: true}, tc.Mirror().State("hm-rpc.0.light.on"))

	tc.socket.fire("stateChange", "cam.0.snapshot", &wire.State{Val: "", Ack: true})
	test.AssertEvents(t, states, &wire.State{Val: "", Ack: true, Binary: []byte("png")})

	tc.socket.fire("stateChange", "hm-rpc.0.light.on", nil)
	test.AssertEvents(t, states, (*wire.State)(nil))
	require.Nil(t, tc.Mirror().State("hm-rpc.0.light.on"))
}

func TestBinaryStateLoadInBackground(t *testing.T) {
	tc := startClient(t, Config{})
	tc.connect()
	tc.waitReady(t)

	release := make(chan struct{})
	tc.socket.handle("getBinaryState", func([]any) []any {
		<-release
		return []any{nil, "cG5n"}
	})
	binary := make(chan *wire.State, 10)
	plain := make(chan string, 10)
	tc.SubscribeBinaryState("cam.*", StateFunc(func(id string, state *wire.State) { binary <- state }))
	tc.SubscribeState("hm-rpc.0.*", StateFunc(func(id string, state *wire.State) { plain <- id }))

	tc.socket.fire("stateChange", "cam.0.snapshot", &wire.State{Val: "", Ack: true})
	tc.socket.fire("stateChange", "hm-rpc.0.light.on", &wire.State{Val: "on"})
	test.AssertEvents(t, plain, "hm-rpc.0.light.on")
	test.AssertNoEvents(t, binary, 10*time.Millisecond)

	close(release)
	test.AssertEvents(t, binary, &wire.State{Val: "", Ack: true, Binary: []byte("png")})
}

func TestVersionGate(t *testing.T) {
	tc := startClient(t, Config{})
	tc.socket.reply("getVersion", nil, "4.0.0", "admin")

	tc.socket.fire(sio.EventConnect, false)
	tc.waitReady(t)
	require.False(t, tc.IsSecure())
	test.AssertEvents(t, tc.socket.calls, "getVersion", "getUserPermissions", "getObject", "getObjects")
}

func TestSecureHandshake(t *testing.T) {
	tc := startClient(t, Config{DoNotLoadACL: true})
	tc.socket.reply("authenticate", true, true)

	tc.socket.fire(sio.EventConnect, false)
	tc.waitReady(t)
	require.True(t, tc.IsSecure())
	require.Nil(t, tc.Permissions())
	test.AssertEvents(t, tc.socket.calls, "getVersion", "authenticate", "getObject", "getObjects")
}

func TestReauthenticate(t *testing.T) {
	tc := startClient(t, Config{})
	tc.socket.reply("authenticate", false, true)
	loginURL := "./login?href=" + url.QueryEscape(tc.platform.location)

	tc.connect()
	test.AssertEvents(t, tc.platform.redirects, loginURL)
	require.False(t, tc.IsConnected())

	tc.socket.fire("reauthenticate")
	test.AssertEvents(t, tc.platform.redirects, loginURL)

	tc.socket.fire("error", "User not authorized")
	test.AssertEvents(t, tc.platform.redirects, loginURL)
	test.AssertNoEvents(t, tc.platform.alerts, 10*time.Millisecond)
}

func TestErrors(t *testing.T) {
	tc := startClient(t, Config{})

	tc.socket.fire("error", "boom")
	test.AssertEvents(t, tc.platform.alerts, "Socket error: boom")

	tc.socket.fire("permissionError", &wire.PermissionError{Operation: "read", Type: "state", ID: "a.b"})
	select {
	case err := <-tc.errors:
		var permErr *wire.PermissionError
		require.ErrorAs(t, err, &permErr)
		require.Equal(t, &wire.PermissionError{Operation: "read", Type: "state", ID: "a.b"}, permErr)
	case <-time.After(test.EventTimeout):
		t.Fatal("timeout waiting for the permission error")
	}

	tc.socket.fire(sio.EventConnectError, "dial tcp: connection refused")
	select {
	case err := <-tc.errors:
		require.ErrorIs(t, err, ErrConnect)
		require.Contains(t, err.Error(), "connection refused")
	case <-time.After(test.EventTimeout):
		t.Fatal("timeout waiting for the connect error")
	}
}

func TestWaitForRestart(t *testing.T) {
	tc := startClient(t, Config{})
	tc.SubscribeState("a.*", StateFunc(func(string, *wire.State) {}))
	tc.connect()
	tc.waitReady(t)
	test.AssertEvents(t, tc.socket.emitted, wireEvent{"subscribe", "a.*"})

	tc.SetWaitForRestart()
	tc.socket.fire(sio.EventDisconnect, "transport close")
	tc.socket.fire(sio.EventConnect, true)
	tc.socket.fire(sio.EventReconnect)

	test.AssertEvents(t, tc.platform.redirects, tc.platform.location)
	test.AssertNoEvents(t, tc.socket.emitted, 50*time.Millisecond)
}

func TestDoNotLoadAllObjects(t *testing.T) {
	tc := startClient(t, Config{DoNotLoadAllObjects: true})
	tc.connect()

	require.Equal(t, map[string]*wire.Object{wire.SystemConfigID: testSystemConfig}, tc.waitReady(t))
	test.AssertEvents(t, tc.progress, ProgressConnected, ProgressReady)
	test.AssertEvents(t, tc.socket.calls, "authenticate", "getUserPermissions", "getObject")
}

func TestBootstrapRetry(t *testing.T) {
	defer func(r retry.FixedConfig) { bootstrapRetry = r }(bootstrapRetry)
	bootstrapRetry = retry.FixedConfig{RetryAfter: 10 * time.Millisecond, MaxAttempts: 10}

	failures := 2
	tc := startClient(t, Config{}, func(tc *testClient) {
		tc.socket.handle("getObjects", func([]any) []any {
			if failures > 0 {
				failures--
				return []any{"not ready"}
			}
			return []any{nil, testObjects}
		})
	})
	tc.connect()
	require.Equal(t, testObjects, tc.waitReady(t))
	// permissions and configuration are not loaded again
	test.AssertEvents(t, tc.socket.calls, "authenticate", "getUserPermissions", "getObject", "getObjects", "getObjects", "getObjects")
}

func TestLogAndCommandOutput(t *testing.T) {
	logs := make(chan wire.LogMessage, 10)
	tc := startClient(t, Config{AutoSubscribeLog: true, OnLog: func(msg wire.LogMessage) { logs <- msg }})
	tc.connect()
	tc.waitReady(t)
	test.AssertEvents(t, tc.socket.emitted, wireEvent{"requireLog", true})

	observed := make(chan wire.LogMessage, 10)
	dispose := tc.OnLog(func(msg wire.LogMessage) { observed <- msg })
	msg := wire.LogMessage{Severity: "info", TS: 1700000000000, Message: "started", From: "admin.0"}
	tc.socket.fire("log", msg)
	test.AssertEvents(t, observed, msg)
	test.AssertEvents(t, logs, msg)

	dispose()
	dispose()
	tc.socket.fire("log", msg)
	test.AssertEvents(t, logs, msg)
	test.AssertNoEvents(t, observed, 10*time.Millisecond)

	output := make(chan CmdOutput, 10)
	tc.OnCmdOutput(func(out CmdOutput) { output <- out })
	tc.socket.fire("cmdStdout", 7, "hello")
	tc.socket.fire("cmdStderr", 7, "oops")
	tc.socket.fire("cmdExit", 7, 1)
	test.AssertEvents(t, output,
		CmdOutput{ID: 7, Stream: "stdout", Data: "hello"},
		CmdOutput{ID: 7, Stream: "stderr", Data: "oops"},
		CmdOutput{ID: 7, Exited: true, ExitCode: 1})

	tc.socket.fire(sio.EventDisconnect, "transport close")
	tc.socket.fire(sio.EventConnect, true)
	test.AssertEvents(t, tc.socket.emitted, wireEvent{"requireLog", true})
}

func TestNoTransport(t *testing.T) {
	defer func(w retry.FixedConfig) { transportWait = w }(transportWait)
	transportWait = retry.FixedConfig{RetryAfter: time.Millisecond, MaxAttempts: 3}

	platform := newFakePlatform(nil)
	c, err := New(Config{}, platform)
	require.NoError(t, err)
	require.ErrorIs(t, c.Run(test.Context(t)), ErrNoTransport)
	test.AssertEvents(t, platform.alerts, "Cannot load the socket transport. Please check the connection to the backend.")
}

func TestWaitConnectedCanceled(t *testing.T) {
	c, err := New(Config{}, newFakePlatform(newFakeSocket()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(test.Context(t))
	cancel()
	require.True(t, errors.Is(c.WaitConnected(ctx), context.Canceled))
}

func TestSystemLanguage(t *testing.T) {
	platform := newFakePlatform(nil)
	c := &Client{platform: platform}

	withLang := func(lang string) *wire.Object {
		return &wire.Object{ID: wire.SystemConfigID, Common: map[string]any{"language": lang}}
	}
	require.Equal(t, "de", c.systemLanguage(withLang("de")))
	require.Equal(t, "zh-cn", c.systemLanguage(withLang("zh-CN")))
	require.Equal(t, "en", c.systemLanguage(withLang("tlh")))

	platform.lang = "pt-BR"
	require.Equal(t, "pt", c.systemLanguage(nil))
	platform.lang = ""
	require.Equal(t, FallbackLanguage, c.systemLanguage(nil))
}

func TestWithLanguage(t *testing.T) {
	require.Nil(t, withLanguage(nil, "en"))

	orig := &wire.Object{ID: wire.SystemConfigID, Common: map[string]any{"language": "tlh", "city": "Berlin"}}
	res := withLanguage(orig, "en")
	require.Equal(t, "en", res.CommonString("language"))
	require.Equal(t, "Berlin", res.CommonString("city"))
	require.Equal(t, "tlh", orig.CommonString("language"))

	require.Same(t, res, withLanguage(res, "en"))
}
