package iosocket

import (
	"testing"
	"time"

	"github.com/ridge/iosocket/test"
	"github.com/ridge/iosocket/wire"
	"github.com/stretchr/testify/require"
)

func readyClient(t *testing.T, cfg Config, setup ...func(tc *testClient)) *testClient {
	tc := startClient(t, cfg, setup...)
	tc.connect()
	tc.waitReady(t)
	for len(tc.socket.calls) > 0 {
		<-tc.socket.calls
	}
	return tc
}

func TestCallNotConnected(t *testing.T) {
	tc := startClient(t, Config{})

	_, err := tc.GetState(test.Context(t), "a.b")
	require.ErrorIs(t, err, ErrNotConnected)
	test.AssertNoEvents(t, tc.socket.calls, 10*time.Millisecond)
}

func TestCachedCall(t *testing.T) {
	tc := readyClient(t, Config{})
	ctx := test.Context(t)

	for i := 0; i < 2; i++ {
		info, err := tc.GetVersion(ctx, false)
		require.NoError(t, err)
		require.Equal(t, &wire.VersionInfo{Version: "5.0.0", ServerName: "admin"}, info)
	}
	test.AssertEvents(t, tc.socket.calls, "getVersion")

	tc.socket.reply("getVersion", nil, "5.1.0", "admin")
	info, err := tc.GetVersion(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "5.1.0", info.Version)
	test.AssertEvents(t, tc.socket.calls, "getVersion")

	// bootstrap already cached the permissions
	_, err = tc.GetUserPermissions(ctx, false)
	require.NoError(t, err)
	test.AssertNoEvents(t, tc.socket.calls, 10*time.Millisecond)
}

func TestFeatureCache(t *testing.T) {
	tc := readyClient(t, Config{})
	ctx := test.Context(t)

	features := make(chan any, 10)
	tc.socket.handle("checkFeatureSupported", func(args []any) []any {
		features <- args[0]
		return []any{nil, args[0] == "ALIAS"}
	})

	for i := 0; i < 2; i++ {
		ok, err := tc.CheckFeatureSupported(ctx, "ALIAS", false)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := tc.CheckFeatureSupported(ctx, "CONTROLLER_LICENSE_MANAGER", false)
	require.NoError(t, err)
	require.False(t, ok)
	test.AssertEvents(t, features, "ALIAS", "CONTROLLER_LICENSE_MANAGER")
}

func TestBackendError(t *testing.T) {
	tc := readyClient(t, Config{})
	tc.socket.reply("setState", "permissionError")

	err := tc.SetState(test.Context(t), "a.b", &wire.State{Val: 1})
	var backendErr *wire.BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, "permissionError", backendErr.Error())
	require.True(t, backendErr.IsPermissionDenied())
}

func TestAdminOnly(t *testing.T) {
	tc := readyClient(t, Config{}, func(tc *testClient) {
		tc.platform.web = true
	})
	ctx := test.Context(t)

	require.ErrorIs(t, tc.CmdExec(ctx, "system.host.server", 1, "ls"), ErrNotAdmin)
	require.ErrorIs(t, tc.DelObjects(ctx, "a"), ErrNotAdmin)
	_, err := tc.GetCompactSystemConfig(ctx, false)
	require.ErrorIs(t, err, ErrNotAdmin)
	test.AssertNoEvents(t, tc.socket.calls, 10*time.Millisecond)
}

func TestCmdExec(t *testing.T) {
	tc := readyClient(t, Config{})
	args := make(chan []any, 1)
	tc.socket.handle("cmdExec", func(a []any) []any {
		args <- a
		return []any{nil}
	})

	require.NoError(t, tc.CmdExec(test.Context(t), "system.host.server", 3, "npm ls"))
	test.AssertEvents(t, args, []any{"system.host.server", 3, "npm ls"})
}

func TestCompactSystemConfig(t *testing.T) {
	tc := readyClient(t, Config{})
	tc.socket.reply("getCompactSystemConfig", nil, &wire.Object{Common: map[string]any{"language": "fr"}})

	obj, err := tc.GetCompactSystemConfig(test.Context(t), false)
	require.NoError(t, err)
	require.Equal(t, wire.SystemConfigID, obj.ID)
	require.Equal(t, "fr", obj.CommonString("language"))
}

func TestGetObjectsFromMirror(t *testing.T) {
	tc := readyClient(t, Config{})
	ctx := test.Context(t)

	objects, err := tc.GetObjects(ctx, false)
	require.NoError(t, err)
	require.Equal(t, testObjects, objects)
	test.AssertNoEvents(t, tc.socket.calls, 10*time.Millisecond)

	tc.socket.reply("getObjects", nil, map[string]*wire.Object{"a": {ID: "a", Type: "state"}})
	objects, err = tc.GetObjects(ctx, true)
	require.NoError(t, err)
	require.Equal(t, map[string]*wire.Object{"a": {ID: "a", Type: "state"}}, objects)
	require.Equal(t, objects, tc.Mirror().Objects())
	test.AssertEvents(t, tc.socket.calls, "getObjects")
}

func TestGetObjectView(t *testing.T) {
	tc := readyClient(t, Config{})
	args := make(chan []any, 1)
	tc.socket.handle("getObjectView", func(a []any) []any {
		args <- a
		return []any{nil, map[string]any{"rows": []wire.ViewRow{
			{ID: "system.adapter.admin.0", Value: &wire.Object{ID: "system.adapter.admin.0", Type: "instance"}},
		}}}
	})

	params := wire.ViewParams{StartKey: "system.adapter.", EndKey: "system.adapter.\u9999"}
	objects, err := tc.GetObjectView(test.Context(t), "system", "instance", params)
	require.NoError(t, err)
	require.Equal(t, map[string]*wire.Object{
		"system.adapter.admin.0": {ID: "system.adapter.admin.0", Type: "instance"},
	}, objects)
	test.AssertEvents(t, args, []any{"system", "instance", params})
}

func TestSendTo(t *testing.T) {
	tc := readyClient(t, Config{})
	tc.socket.reply("sendTo", map[string]any{"result": "pong"})

	reply, err := tc.SendTo(test.Context(t), "admin.0", "ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"result":"pong"}`, string(reply))
}

func TestFiles(t *testing.T) {
	tc := readyClient(t, Config{})
	ctx := test.Context(t)

	tc.socket.reply("readFile", nil, "<html></html>", "text/html")
	data, mimeType, err := tc.ReadFile(ctx, "admin", "index.html")
	require.NoError(t, err)
	require.Equal(t, "<html></html>", data)
	require.Equal(t, "text/html", mimeType)

	tc.socket.reply("readFile64", nil, "cG5n", "image/png")
	raw, mimeType, err := tc.ReadFile64(ctx, "admin", "logo.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), raw)
	require.Equal(t, "image/png", mimeType)

	args := make(chan []any, 1)
	tc.socket.handle("writeFile64", func(a []any) []any {
		args <- a
		return []any{nil}
	})
	require.NoError(t, tc.WriteFile64(ctx, "admin", "logo.png", []byte("png")))
	test.AssertEvents(t, args, []any{"admin", "logo.png", "cG5n"})

	tc.socket.reply("readDir", nil, []wire.DirEntry{{File: "index.html"}, {File: "img", IsDir: true}})
	entries, err := tc.ReadDir(ctx, "admin", "/")
	require.NoError(t, err)
	require.Equal(t, []wire.DirEntry{{File: "index.html"}, {File: "img", IsDir: true}}, entries)

	tc.socket.reply("deleteFile", "Not exists")
	require.EqualError(t, tc.DeleteFile(ctx, "admin", "missing.html"), "Not exists")
}

func TestMissingResult(t *testing.T) {
	tc := readyClient(t, Config{})
	tc.socket.reply("getObject", nil, nil)

	obj, err := tc.GetObject(test.Context(t), "missing")
	require.NoError(t, err)
	require.Nil(t, obj)

	tc.socket.reply("getState", nil, "not a state")
	_, err = tc.GetState(test.Context(t), "broken")
	require.Error(t, err)
}

func TestSystemConfigWriteDropsCache(t *testing.T) {
	tc := readyClient(t, Config{})
	ctx := test.Context(t)
	tc.socket.reply("setObject", nil)
	tc.socket.reply("extendObject", nil)

	// loaded by bootstrap
	_, err := tc.GetSystemConfig(ctx, false)
	require.NoError(t, err)
	test.AssertNoEvents(t, tc.socket.calls, 10*time.Millisecond)

	require.NoError(t, tc.SetObject(ctx, "a.b", &wire.Object{ID: "a.b", Type: "state"}))
	_, err = tc.GetSystemConfig(ctx, false)
	require.NoError(t, err)
	test.AssertEvents(t, tc.socket.calls, "setObject")

	require.NoError(t, tc.ExtendObject(ctx, wire.SystemConfigID, map[string]any{"common": map[string]any{"language": "fr"}}))
	_, err = tc.GetSystemConfig(ctx, false)
	require.NoError(t, err)
	test.AssertEvents(t, tc.socket.calls, "extendObject", "getObject")
}
