package iosocket

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ridge/iosocket/wire"
)

// Lower bounds of the timeouts
const (
	MinIOTimeout  = 20 * time.Second
	MinCmdTimeout = 5 * time.Second
)

// Config configures a Client.
//
// Endpoint fields left empty are taken from Platform.ResolveEndpoint.
type Config struct {
	// Protocol of the hosting page, "http:" or "https:". Selects ws or wss.
	Protocol string `validate:"omitempty,oneof=http: https: http https"`

	// Host and Port of the backend
	Host string `validate:"omitempty,hostname_rfc1123|ip"`
	Port int    `validate:"gte=0,lte=65535"`

	// Path of the socket endpoint. "/socket.io/" by default.
	Path string `validate:"omitempty,startswith=/"`

	// Name identifies the client to the backend. A random one by default.
	Name string

	// IOTimeout is the default timeout of calls and of the authentication
	// handshake. Raised to MinIOTimeout.
	IOTimeout time.Duration `validate:"gte=0"`

	// CmdTimeout is the timeout of CmdExec. Raised to MinCmdTimeout.
	CmdTimeout time.Duration `validate:"gte=0"`

	// AutoSubscribes are object patterns subscribed on every connect in
	// addition to the registered ones
	AutoSubscribes []string `validate:"dive,required"`

	// AutoSubscribeLog enables log streaming on every connect
	AutoSubscribeLog bool

	// DoNotLoadAllObjects skips loading the object tree: the mirror only gets
	// the system configuration
	DoNotLoadAllObjects bool

	// DoNotLoadACL skips loading the user permissions
	DoNotLoadACL bool

	// Admin5Only selects the compact system configuration outside web mode
	Admin5Only bool

	// OnProgress is called on every progress change
	OnProgress func(progress Progress)

	// OnReady is called once bootstrap completes, with the mirrored objects
	OnReady func(objects map[string]*wire.Object)

	// OnError receives handshake, bootstrap and backend-reported errors
	OnError func(err error)

	// OnLog receives streamed backend log messages
	OnLog func(msg wire.LogMessage)

	// OnLanguage is called when the system language is determined
	OnLanguage func(lang string)

	// OnObjectChange is called for every object notification that changes
	// the mirror
	OnObjectChange func(id string, obj *wire.Object)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (cfg Config) validate() error {
	if err := validate.Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			panic(err)
		}
		return fmt.Errorf("invalid client configuration: %w", err)
	}
	return nil
}

// withDefaults fills in the empty fields
func (cfg Config) withDefaults(endpoint Endpoint) Config {
	if cfg.Protocol == "" {
		cfg.Protocol = endpoint.Protocol
	}
	if cfg.Host == "" {
		cfg.Host = endpoint.Host
	}
	if cfg.Port == 0 {
		cfg.Port = endpoint.Port
	}
	if cfg.Path == "" {
		cfg.Path = endpoint.Path
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Name == "" {
		cfg.Name = uuid.NewString()
	}
	if cfg.IOTimeout < MinIOTimeout {
		cfg.IOTimeout = MinIOTimeout
	}
	if cfg.CmdTimeout < MinCmdTimeout {
		cfg.CmdTimeout = MinCmdTimeout
	}
	return cfg
}
