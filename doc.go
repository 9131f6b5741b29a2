// Package iosocket is a client for automation backends exposing a state store
// and an object store over a real-time event socket.
//
// A Client keeps one reconnecting socket to the backend. It authenticates,
// loads the user permissions, the system configuration and optionally the
// whole object tree, and restores subscriptions after every reconnect. RPC
// calls are multiplexed over the socket by a request coordinator that can
// cache results and enforces timeouts. State and object change notifications
// update a local mirror and are delivered to the handlers registered for
// matching patterns.
//
// All notifications and lifecycle callbacks are delivered from a single event
// loop goroutine, in arrival order. Client methods may be called from any
// goroutine, including from handlers.
//
// Usage:
//
//	client, err := iosocket.New(iosocket.Config{
//	    Host:           "192.168.1.10",
//	    Port:           8081,
//	    AutoSubscribes: []string{"system.adapter.*"},
//	    OnReady: func(objects map[string]*wire.Object) {
//	        ...
//	    },
//	}, iosocket.DefaultPlatform{})
//	if err != nil {
//	    return err
//	}
//	client.SubscribeState("hm-rpc.0.*", iosocket.StateFunc(func(id string, state *wire.State) {
//	    ...
//	}))
//	return client.Run(ctx)
package iosocket
