package run

import (
	// CA certificates for wss:// connections from minimal containers
	_ "golang.org/x/crypto/x509roots/fallback"
)
