package iosocket

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c, err := New(Config{IOTimeout: time.Second, CmdTimeout: time.Minute}, newFakePlatform(nil))
	require.NoError(t, err)

	cfg := c.Config()
	require.Equal(t, "http:", cfg.Protocol)
	require.Equal(t, "backend", cfg.Host)
	require.Equal(t, 8081, cfg.Port)
	require.Equal(t, DefaultPath, cfg.Path)
	require.Equal(t, MinIOTimeout, cfg.IOTimeout)
	require.Equal(t, time.Minute, cfg.CmdTimeout)
	_, err = uuid.Parse(cfg.Name)
	require.NoError(t, err)
	require.Equal(t, "ws://backend:8081/socket.io/", c.URL())
}

func TestConfigOverridesEndpoint(t *testing.T) {
	c, err := New(Config{Protocol: "https:", Host: "10.0.0.5", Path: "/iob/", Name: "vis"}, newFakePlatform(nil))
	require.NoError(t, err)

	require.Equal(t, "wss://10.0.0.5:8081/iob/", c.URL())
	require.Equal(t, "vis", c.Config().Name)
	require.Equal(t, MinCmdTimeout, c.Config().CmdTimeout)
}

func TestConfigValidation(t *testing.T) {
	for name, cfg := range map[string]Config{
		"protocol":      {Protocol: "ftp:"},
		"host":          {Host: "bad host"},
		"port":          {Port: 70000},
		"path":          {Path: "socket.io"},
		"timeout":       {IOTimeout: -time.Second},
		"autoSubscribe": {AutoSubscribes: []string{"system.*", ""}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg, newFakePlatform(nil))
			require.Error(t, err)
		})
	}
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "ws://localhost/socket.io/", Endpoint{}.URL())
	require.Equal(t, "wss://example.com:443/socket.io/", Endpoint{Protocol: "https:", Host: "example.com", Port: 443}.URL())
}

func TestProgressString(t *testing.T) {
	require.Equal(t, "objectsLoaded", ProgressObjectsLoaded.String())
	require.Equal(t, "authenticating", PhaseAuthenticating.String())
	require.Equal(t, "unknown", Phase(42).String())
}
