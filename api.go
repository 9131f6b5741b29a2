package iosocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ridge/iosocket/request"
	"github.com/ridge/iosocket/wire"
)

// Cache keys of the cached calls
const (
	cacheVersion            = "version"
	cacheAdapterName        = "adapterName"
	cacheAuthEnabled        = "authEnabled"
	cacheACL                = "acl"
	cacheSystemConfig       = "systemConfig"
	cacheSystemConfigCommon = "systemConfigCommon"
	cacheFeaturePrefix      = "feature_"
)

// call performs an RPC through the coordinator. The acknowledgement follows
// the (error, results...) convention: a set error argument fails the call with
// *wire.BackendError, and the results are returned.
func (c *Client) call(ctx context.Context, req request.Request, event string, args ...any) ([]json.RawMessage, error) {
	req.Name = event
	if req.Body == nil {
		req.Body = func(ctx context.Context, token *request.Token) ([]json.RawMessage, error) {
			ack, err := c.currentSocket().Call(ctx, event, args...)
			if err != nil {
				return nil, err
			}
			if err := wire.AckError(ack); err != nil {
				return nil, err
			}
			if len(ack) == 0 {
				return nil, nil
			}
			return ack[1:], nil
		}
	}
	return c.coordinator.Call(ctx, req).Wait(ctx)
}

func decodeResult[T any](results []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(results) || wire.IsNull(results[i]) {
		return v, nil
	}
	if err := json.Unmarshal(results[i], &v); err != nil {
		return v, fmt.Errorf("failed to decode reply: %w", err)
	}
	return v, nil
}

// result decodes the first result of a call
func result[T any](results []json.RawMessage, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeResult[T](results, 0)
}

func decodeBase64(data string, err error) ([]byte, error) {
	if err != nil || data == "" {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(data)
}

// GetStates returns the states matching the pattern
func (c *Client) GetStates(ctx context.Context, pattern string) (map[string]*wire.State, error) {
	return result[map[string]*wire.State](c.call(ctx, request.Request{}, "getStates", pattern))
}

// GetState returns a state, nil if it doesn't exist
func (c *Client) GetState(ctx context.Context, id string) (*wire.State, error) {
	return result[*wire.State](c.call(ctx, request.Request{}, "getState", id))
}

// SetState writes a state
func (c *Client) SetState(ctx context.Context, id string, state *wire.State) error {
	_, err := c.call(ctx, request.Request{}, "setState", id, state)
	return err
}

// GetBinaryState returns the value of a binary state
func (c *Client) GetBinaryState(ctx context.Context, id string) ([]byte, error) {
	return decodeBase64(result[string](c.call(ctx, request.Request{}, "getBinaryState", id)))
}

// SetBinaryState writes the value of a binary state
func (c *Client) SetBinaryState(ctx context.Context, id string, data []byte) error {
	_, err := c.call(ctx, request.Request{}, "setBinaryState", id, base64.StdEncoding.EncodeToString(data))
	return err
}

// GetForeignStates returns the states matching the pattern, across adapters
func (c *Client) GetForeignStates(ctx context.Context, pattern string) (map[string]*wire.State, error) {
	return result[map[string]*wire.State](c.call(ctx, request.Request{}, "getForeignStates", pattern))
}

// GetObject returns an object, nil if it doesn't exist
func (c *Client) GetObject(ctx context.Context, id string) (*wire.Object, error) {
	return result[*wire.Object](c.call(ctx, request.Request{}, "getObject", id))
}

// SetObject writes an object
func (c *Client) SetObject(ctx context.Context, id string, obj *wire.Object) error {
	_, err := c.call(ctx, request.Request{}, "setObject", id, obj)
	c.objectWritten(id, err)
	return err
}

// ExtendObject merges the patch into an object on the backend
func (c *Client) ExtendObject(ctx context.Context, id string, patch map[string]any) error {
	_, err := c.call(ctx, request.Request{}, "extendObject", id, patch)
	c.objectWritten(id, err)
	return err
}

// DelObject deletes an object
func (c *Client) DelObject(ctx context.Context, id string) error {
	_, err := c.call(ctx, request.Request{}, "delObject", id)
	c.objectWritten(id, err)
	return err
}

// DelObjects deletes an object with all its children. Admin only.
func (c *Client) DelObjects(ctx context.Context, id string) error {
	_, err := c.call(ctx, request.Request{RequireAdmin: true}, "delObjects", id)
	return err
}

// objectWritten drops the cached system configuration once it is changed
func (c *Client) objectWritten(id string, err error) {
	if err != nil || id != wire.SystemConfigID {
		return
	}
	c.coordinator.Forget(cacheSystemConfig)
	c.coordinator.Forget(cacheSystemConfigCommon)
}

// GetObjects returns all objects. Unless update is set, the local mirror is
// used once it holds the object tree; a fetched tree replaces the mirror.
func (c *Client) GetObjects(ctx context.Context, update bool) (map[string]*wire.Object, error) {
	if !update && !c.config.DoNotLoadAllObjects && c.mirror.Loaded() {
		return c.mirror.Objects(), nil
	}
	objects, err := result[map[string]*wire.Object](c.call(ctx, request.Request{}, "getObjects"))
	if err != nil {
		return nil, err
	}
	if !c.config.DoNotLoadAllObjects {
		c.mirror.LoadObjects(objects)
	}
	return objects, nil
}

type viewReply struct {
	Rows []wire.ViewRow `json:"rows"`
}

// GetObjectView returns the objects of a view in a key range
func (c *Client) GetObjectView(ctx context.Context, design, search string, params wire.ViewParams) (map[string]*wire.Object, error) {
	reply, err := result[viewReply](c.call(ctx, request.Request{}, "getObjectView", design, search, params))
	if err != nil {
		return nil, err
	}
	res := make(map[string]*wire.Object, len(reply.Rows))
	for _, row := range reply.Rows {
		res[row.ID] = row.Value
	}
	return res, nil
}

// GetForeignObjects returns the objects of a type matching the pattern
func (c *Client) GetForeignObjects(ctx context.Context, pattern, typ string) (map[string]*wire.Object, error) {
	return result[map[string]*wire.Object](c.call(ctx, request.Request{}, "getForeignObjects", pattern, typ))
}

// SendTo sends a message to an adapter instance and returns its reply. The
// reply is passed through as is: it doesn't follow the error-first convention.
func (c *Client) SendTo(ctx context.Context, instance, command string, data any) (json.RawMessage, error) {
	results, err := c.call(ctx, request.Request{
		Body: func(ctx context.Context, token *request.Token) ([]json.RawMessage, error) {
			return c.currentSocket().Call(ctx, "sendTo", instance, command, data)
		},
	}, "sendTo")
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// CmdExec runs a shell command on a host. Returns once the backend accepts
// the command; the output is delivered to the OnCmdOutput observers. Admin
// only.
func (c *Client) CmdExec(ctx context.Context, host string, cmdID int, cmd string) error {
	_, err := c.call(ctx, request.Request{RequireAdmin: true, Timeout: c.config.CmdTimeout}, "cmdExec", host, cmdID, cmd)
	return err
}

// ReadDir lists a directory of an adapter's file storage
func (c *Client) ReadDir(ctx context.Context, adapter, path string) ([]wire.DirEntry, error) {
	return result[[]wire.DirEntry](c.call(ctx, request.Request{}, "readDir", adapter, path))
}

// ReadFile returns a text file and its MIME type
func (c *Client) ReadFile(ctx context.Context, adapter, name string) (string, string, error) {
	results, err := c.call(ctx, request.Request{}, "readFile", adapter, name)
	if err != nil {
		return "", "", err
	}
	data, err := decodeResult[string](results, 0)
	if err != nil {
		return "", "", err
	}
	mimeType, err := decodeResult[string](results, 1)
	return data, mimeType, err
}

// ReadFile64 returns a binary file and its MIME type
func (c *Client) ReadFile64(ctx context.Context, adapter, name string) ([]byte, string, error) {
	results, err := c.call(ctx, request.Request{}, "readFile64", adapter, name)
	if err != nil {
		return nil, "", err
	}
	data, err := decodeBase64(decodeResult[string](results, 0))
	if err != nil {
		return nil, "", err
	}
	mimeType, err := decodeResult[string](results, 1)
	return data, mimeType, err
}

// WriteFile writes a text file
func (c *Client) WriteFile(ctx context.Context, adapter, name, data string) error {
	_, err := c.call(ctx, request.Request{}, "writeFile", adapter, name, data)
	return err
}

// WriteFile64 writes a binary file
func (c *Client) WriteFile64(ctx context.Context, adapter, name string, data []byte) error {
	_, err := c.call(ctx, request.Request{}, "writeFile64", adapter, name, base64.StdEncoding.EncodeToString(data))
	return err
}

// DeleteFile deletes a file
func (c *Client) DeleteFile(ctx context.Context, adapter, name string) error {
	_, err := c.call(ctx, request.Request{}, "deleteFile", adapter, name)
	return err
}

// DeleteFolder deletes a folder with its content
func (c *Client) DeleteFolder(ctx context.Context, adapter, name string) error {
	_, err := c.call(ctx, request.Request{}, "deleteFolder", adapter, name)
	return err
}

// GetVersion returns the backend version. Cached.
func (c *Client) GetVersion(ctx context.Context, force bool) (*wire.VersionInfo, error) {
	results, err := c.call(ctx, request.Request{CacheKey: cacheVersion, ForceUpdate: force}, "getVersion")
	if err != nil {
		return nil, err
	}
	version, err := decodeResult[string](results, 0)
	if err != nil {
		return nil, err
	}
	serverName, err := decodeResult[string](results, 1)
	if err != nil {
		return nil, err
	}
	return &wire.VersionInfo{Version: version, ServerName: serverName}, nil
}

// GetAdapterName returns the name of the adapter serving the socket. Cached.
func (c *Client) GetAdapterName(ctx context.Context, force bool) (string, error) {
	return result[string](c.call(ctx, request.Request{CacheKey: cacheAdapterName, ForceUpdate: force}, "getAdapterName"))
}

// AuthEnabled returns true if the backend requires authentication. Cached.
func (c *Client) AuthEnabled(ctx context.Context, force bool) (bool, error) {
	return result[bool](c.call(ctx, request.Request{CacheKey: cacheAuthEnabled, ForceUpdate: force}, "authEnabled"))
}

// CheckFeatureSupported asks the backend whether it supports a feature.
// Cached per feature.
func (c *Client) CheckFeatureSupported(ctx context.Context, feature string, force bool) (bool, error) {
	return result[bool](c.call(ctx, request.Request{CacheKey: cacheFeaturePrefix + feature, ForceUpdate: force}, "checkFeatureSupported", feature))
}

// GetUserPermissions returns the permissions of the current user. Cached.
func (c *Client) GetUserPermissions(ctx context.Context, force bool) (*wire.Permissions, error) {
	return result[*wire.Permissions](c.call(ctx, request.Request{CacheKey: cacheACL, ForceUpdate: force}, "getUserPermissions"))
}

// GetSystemConfig returns the system configuration object. Cached.
func (c *Client) GetSystemConfig(ctx context.Context, force bool) (*wire.Object, error) {
	return result[*wire.Object](c.call(ctx, request.Request{CacheKey: cacheSystemConfig, ForceUpdate: force}, "getObject", wire.SystemConfigID))
}

// GetCompactSystemConfig returns the common part of the system configuration.
// Cached. Admin only.
func (c *Client) GetCompactSystemConfig(ctx context.Context, force bool) (*wire.Object, error) {
	obj, err := result[*wire.Object](c.call(ctx, request.Request{CacheKey: cacheSystemConfigCommon, ForceUpdate: force, RequireAdmin: true}, "getCompactSystemConfig"))
	if obj != nil && obj.ID == "" {
		obj.ID = wire.SystemConfigID
	}
	return obj, err
}

// GetHistory returns the history of a state
func (c *Client) GetHistory(ctx context.Context, id string, options wire.HistoryOptions) ([]wire.HistoryValue, error) {
	return result[[]wire.HistoryValue](c.call(ctx, request.Request{}, "getHistory", id, options))
}

// RequireLog enables or disables log streaming to OnLog and the OnLog
// observers
func (c *Client) RequireLog(ctx context.Context, enabled bool) error {
	_, err := c.call(ctx, request.Request{}, "requireLog", enabled)
	return err
}
