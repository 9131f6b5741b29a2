package iosocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ridge/iosocket/request"
	"github.com/ridge/iosocket/retry"
	"github.com/ridge/iosocket/sio"
	"github.com/ridge/iosocket/wire"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// settleDelay is the pause before the version query of a backend that did
// not ask to skip it
const settleDelay = 500 * time.Millisecond

// Backends older than this don't support authentication
var minAuthVersion = semver.MustParse("4.1.2")

var bootstrapRetry = retry.FixedConfig{RetryAfter: time.Second, MaxAttempts: 10}

// FallbackLanguage is used when the configured language is not supported
const FallbackLanguage = "en"

// SupportedLanguages are the system languages the client accepts
var SupportedLanguages = []string{"en", "de", "ru", "pt", "nl", "fr", "it", "es", "pl", "uk", "zh-cn"}

// listen routes socket events to the event loop
func (c *Client) listen(s Socket) {
	s.On(sio.EventConnect, func(args []json.RawMessage) {
		noTimeout := len(args) > 0 && string(args[0]) == "true"
		c.tasks.post(func() { c.onConnect(noTimeout) })
	})
	s.On(sio.EventReconnect, func([]json.RawMessage) {
		c.tasks.post(c.onReconnect)
	})
	s.On(sio.EventDisconnect, func(args []json.RawMessage) {
		reason := argString(args, 0)
		c.tasks.post(func() { c.onDisconnect(reason) })
	})
	s.On(sio.EventConnectError, func(args []json.RawMessage) {
		msg := argString(args, 0)
		c.tasks.post(func() { c.onConnectError(msg) })
	})
	s.On("reauthenticate", func([]json.RawMessage) {
		c.tasks.post(c.reauthenticate)
	})
	s.On("error", func(args []json.RawMessage) {
		msg := argString(args, 0)
		c.tasks.post(func() { c.onTransportError(msg) })
	})
	s.On("permissionError", func(args []json.RawMessage) {
		permErr, err := decodeResult[*wire.PermissionError](args, 0)
		if err != nil || permErr == nil {
			c.log().Warn("Malformed permission error", zap.Error(err))
			return
		}
		c.tasks.post(func() { c.reportError(permErr) })
	})
	s.On("log", func(args []json.RawMessage) {
		msg, err := decodeResult[wire.LogMessage](args, 0)
		if err != nil {
			c.log().Warn("Malformed log message", zap.Error(err))
			return
		}
		c.tasks.post(func() { c.deliverLog(msg) })
	})
	s.On("stateChange", func(args []json.RawMessage) {
		id := argString(args, 0)
		state, err := decodeResult[*wire.State](args, 1)
		if err != nil {
			c.log().Warn("Malformed state change", zap.String("id", id), zap.Error(err))
			return
		}
		c.tasks.post(func() { c.stateChange(id, state) })
	})
	s.On("objectChange", func(args []json.RawMessage) {
		id := argString(args, 0)
		obj, err := decodeResult[*wire.Object](args, 1)
		if err != nil {
			c.log().Warn("Malformed object change", zap.String("id", id), zap.Error(err))
			return
		}
		c.tasks.post(func() { c.objectChange(id, obj) })
	})
	for _, stream := range []string{"stdout", "stderr"} {
		stream := stream
		s.On("cmd"+strings.ToUpper(stream[:1])+stream[1:], func(args []json.RawMessage) {
			id, _ := decodeResult[int](args, 0)
			out := CmdOutput{ID: id, Stream: stream, Data: argString(args, 1)}
			c.tasks.post(func() { c.deliverCmdOutput(out) })
		})
	}
	s.On("cmdExit", func(args []json.RawMessage) {
		id, _ := decodeResult[int](args, 0)
		code, _ := decodeResult[int](args, 1)
		out := CmdOutput{ID: id, Exited: true, ExitCode: code}
		c.tasks.post(func() { c.deliverCmdOutput(out) })
	})
}

// current returns true if no connect or disconnect happened since the epoch
func (c *Client) current(epoch int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Client) onConnect(noTimeout bool) {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.phase = PhaseAuthenticating
	c.mu.Unlock()

	c.log().Info("Socket connected, authenticating", zap.Bool("noTimeout", noTimeout))
	c.spawn("handshake", func(ctx context.Context) error {
		secure, err := c.handshake(ctx, noTimeout)
		c.tasks.post(func() {
			if !c.current(epoch) {
				c.log().Debug("Dropping result of a stale handshake")
				return
			}
			switch {
			case errors.Is(err, ErrUnauthorized):
				c.reauthenticate()
			case err != nil:
				c.reportError(fmt.Errorf("handshake failed: %w", err))
			default:
				c.onPreConnect(secure)
			}
		})
		return nil
	})
}

// handshake authenticates the session. Returns whether the backend is secure.
func (c *Client) handshake(ctx context.Context, noTimeout bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
	defer cancel()

	socket := c.currentSocket()
	if !noTimeout {
		if err := retry.Sleep(ctx, settleDelay); err != nil {
			return false, err
		}
		version, err := backendVersion(ctx, socket)
		switch {
		case err != nil:
			c.log().Warn("Failed to query backend version", zap.Error(err))
		case version.LessThan(minAuthVersion):
			c.log().Info("Backend too old for authentication", zap.Stringer("version", version))
			return false, nil
		}
	}

	args, err := socket.Call(ctx, "authenticate")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, request.ErrTimeout
		}
		return false, err
	}
	if ok, err := decodeResult[*bool](args, 0); err == nil && ok != nil && !*ok {
		return false, ErrUnauthorized
	}
	secure, _ := decodeResult[bool](args, 1)
	return secure, nil
}

func backendVersion(ctx context.Context, socket Socket) (*semver.Version, error) {
	args, err := socket.Call(ctx, "getVersion")
	if err != nil {
		return nil, err
	}
	if err := wire.AckError(args); err != nil {
		return nil, err
	}
	version, err := decodeResult[string](args, 1)
	if err != nil {
		return nil, err
	}
	return semver.NewVersion(version)
}

// onPreConnect completes a successful handshake
func (c *Client) onPreConnect(secure bool) {
	c.mu.Lock()
	c.connected = true
	c.secure = secure
	restart := c.waitForRestart
	bootstrapped := c.bootstrapped
	if bootstrapped {
		c.phase = PhaseReady
	} else {
		c.phase = PhaseBootstrapping
	}
	c.mu.Unlock()

	if restart {
		c.log().Info("Backend restarted, reloading")
		c.platform.Redirect(c.location())
		return
	}

	c.log().Info("Authenticated", zap.Bool("secure", secure))
	if bootstrapped {
		c.setProgress(ProgressReady)
	} else {
		c.loadData()
	}
	c.resubscribe(true)
	c.connectionChanged(true)
	c.firstConnectOnce.Do(func() { close(c.firstConnect) })
}

func (c *Client) onReconnect() {
	c.mu.Lock()
	restart := c.waitForRestart
	c.mu.Unlock()
	if restart {
		// the handshake of the new session reloads
		return
	}

	c.mu.Lock()
	c.connected = true
	bootstrapped := c.bootstrapped
	c.mu.Unlock()

	c.log().Info("Reconnected")
	if bootstrapped {
		c.setProgress(ProgressReady)
	}
	c.resubscribe(true)
	c.connectionChanged(true)
}

func (c *Client) onDisconnect(reason string) {
	c.mu.Lock()
	c.epoch++
	c.connected = false
	c.phase = PhaseDisconnected
	c.mu.Unlock()

	c.log().Info("Disconnected", zap.String("reason", reason))
	c.markUnsubscribed()
	c.coordinator.Reset()
	c.setProgress(ProgressConnecting)
	c.connectionChanged(false)
}

// connectionChanged notifies the observers if the announced state changes
func (c *Client) connectionChanged(connected bool) {
	c.mu.Lock()
	changed := c.announced != connected
	c.announced = connected
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range c.connectionObservers.list() {
		fn(connected)
	}
}

func (c *Client) setProgress(progress Progress) {
	c.mu.Lock()
	changed := c.progress != progress
	c.progress = progress
	if progress == ProgressReady {
		c.phase = PhaseReady
	}
	c.mu.Unlock()

	if changed && c.config.OnProgress != nil {
		c.config.OnProgress(progress)
	}
}

// loadData runs bootstrap in the background, retrying failed attempts. The
// bootstrap belongs to the current connection: its results are dropped once
// the connection is gone, and the next connection starts over.
func (c *Client) loadData() {
	c.mu.Lock()
	epoch := c.epoch
	if c.bootstrapped || c.loadingEpoch == epoch {
		c.mu.Unlock()
		return
	}
	c.loadingEpoch = epoch
	c.mu.Unlock()

	c.spawn("bootstrap", func(ctx context.Context) error {
		err := retry.Do(ctx, bootstrapRetry, func() error {
			if !c.current(epoch) {
				return errStale
			}
			return retry.Retriable(c.bootstrap(ctx, epoch))
		})
		c.tasks.post(func() {
			c.mu.Lock()
			if c.loadingEpoch == epoch {
				c.loadingEpoch = 0
			}
			c.mu.Unlock()
			if err != nil && ctx.Err() == nil && c.current(epoch) {
				c.reportError(fmt.Errorf("failed to load data: %w", err))
			}
		})
		return nil
	})
}

// errStale stops the bootstrap of a connection that is gone
var errStale = errors.New("connection is gone")

// bootstrap loads permissions, system configuration and objects. Steps
// completed by an earlier attempt are skipped.
func (c *Client) bootstrap(ctx context.Context, epoch int) error {
	c.mu.Lock()
	loaded := c.loaded
	sysConfig := c.systemConfig
	c.mu.Unlock()

	if !loaded {
		var permissions *wire.Permissions
		if !c.config.DoNotLoadACL {
			var err error
			permissions, err = c.GetUserPermissions(ctx, false)
			if err != nil {
				return fmt.Errorf("failed to load permissions: %w", err)
			}
		}

		var err error
		if c.config.Admin5Only && !c.isWeb() {
			sysConfig, err = c.GetCompactSystemConfig(ctx, false)
		} else {
			sysConfig, err = c.GetSystemConfig(ctx, false)
		}
		if err != nil {
			return fmt.Errorf("failed to load system configuration: %w", err)
		}

		lang := c.systemLanguage(sysConfig)
		sysConfig = withLanguage(sysConfig, lang)

		loadedConfig := sysConfig
		c.tasks.post(func() {
			if !c.current(epoch) {
				return
			}
			c.mu.Lock()
			if c.loaded {
				c.mu.Unlock()
				return
			}
			c.permissions = permissions
			c.systemConfig = loadedConfig
			c.language = lang
			c.loaded = true
			c.mu.Unlock()

			if c.config.OnLanguage != nil {
				c.config.OnLanguage(lang)
			}
			c.setProgress(ProgressConnected)
		})
	}

	if c.config.DoNotLoadAllObjects {
		if !c.mirror.Loaded() {
			c.mirror.SeedObject(sysConfig)
		}
	} else {
		if _, err := c.GetObjects(ctx, false); err != nil {
			return fmt.Errorf("failed to load objects: %w", err)
		}
		c.tasks.post(func() {
			if c.current(epoch) {
				c.setProgress(ProgressObjectsLoaded)
			}
		})
	}

	c.tasks.post(func() {
		if !c.current(epoch) {
			c.log().Debug("Dropping result of a stale bootstrap")
			return
		}
		c.mu.Lock()
		c.bootstrapped = true
		c.mu.Unlock()

		c.log().Info("Ready")
		c.setProgress(ProgressReady)
		if c.config.OnReady != nil {
			c.config.OnReady(c.mirror.Objects())
		}
	})
	return nil
}

// systemLanguage picks the language from the system configuration, then from
// the platform, and falls back to FallbackLanguage if it isn't supported
func (c *Client) systemLanguage(sysConfig *wire.Object) string {
	lang := sysConfig.CommonString("language")
	if lang == "" {
		if l, ok := c.platform.(Localizer); ok {
			lang = l.Language()
		}
	}
	lang = strings.ToLower(lang)
	if slices.Contains(SupportedLanguages, lang) {
		return lang
	}
	if primary, _, ok := strings.Cut(lang, "-"); ok && slices.Contains(SupportedLanguages, primary) {
		return primary
	}
	return FallbackLanguage
}

// withLanguage returns a copy of the configuration with the language set. A
// missing configuration stays missing.
func withLanguage(sysConfig *wire.Object, lang string) *wire.Object {
	if sysConfig == nil || sysConfig.CommonString("language") == lang {
		return sysConfig
	}
	res := sysConfig.Clone()
	res.Common = maps.Clone(res.Common)
	if res.Common == nil {
		res.Common = map[string]any{}
	}
	res.Common["language"] = lang
	return res
}

// reauthenticate sends the user to the login page, to come back to the
// current location
func (c *Client) reauthenticate() {
	c.log().Info("Authentication required")
	c.platform.Redirect("./login?href=" + url.QueryEscape(c.location()))
}

func (c *Client) onTransportError(msg string) {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "unauthorized") || strings.Contains(lower, "not authorized") {
		c.reauthenticate()
		return
	}
	c.log().Error("Socket error", zap.String("error", msg))
	c.platform.Alert("Socket error: " + msg)
}

func (c *Client) onConnectError(msg string) {
	c.log().Warn("Connection failed", zap.String("error", msg))
	c.reportError(fmt.Errorf("%w: %s", ErrConnect, msg))
}

// reportError delivers an error to OnError
func (c *Client) reportError(err error) {
	var permErr *wire.PermissionError
	if errors.As(err, &permErr) {
		c.log().Warn("Permission denied", zap.Object("permissionError", permErr))
	} else {
		c.log().Warn("Client error", zap.Error(err))
	}
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}

func (c *Client) deliverLog(msg wire.LogMessage) {
	for _, fn := range c.logObservers.list() {
		fn(msg)
	}
	if c.config.OnLog != nil {
		c.config.OnLog(msg)
	}
}

func (c *Client) deliverCmdOutput(out CmdOutput) {
	for _, fn := range c.cmdObservers.list() {
		fn(out)
	}
}

// argString returns a string argument, or the raw JSON of a non-string one
func argString(args []json.RawMessage, i int) string {
	if i >= len(args) || wire.IsNull(args[i]) {
		return ""
	}
	var s string
	if json.Unmarshal(args[i], &s) == nil {
		return s
	}
	return string(args[i])
}
